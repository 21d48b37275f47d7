package resolver

import (
	"path/filepath"
	"strings"
)

// DefaultContentType は拡張子が表にない場合の Content-Type
const DefaultContentType = "application/octet-stream"

// 拡張子 → Content-Type の固定表
var contentTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    "text/javascript",
	".mjs":   "text/javascript",
	".txt":   "text/plain; charset=utf-8",
	".json":  "application/json",
	".xml":   "application/xml",
	".pdf":   "application/pdf",
	".wasm":  "application/wasm",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
}

// ContentType はファイル名の拡張子から Content-Type を決める
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return DefaultContentType
}
