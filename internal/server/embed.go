package server

import (
	"embed"
	"log"
)

//go:embed assets
var embedFS embed.FS

// getIndexHTML は管理画面の index.html を返す
func getIndexHTML() []byte {
	data, err := embedFS.ReadFile("assets/index.html")
	if err != nil {
		log.Fatalf("埋め込みindex.htmlの読み込みに失敗: %v", err)
	}
	return data
}
