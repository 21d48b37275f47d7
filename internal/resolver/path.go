package resolver

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	// ErrTraversal はパスがルートの外を指すことを表す
	ErrTraversal = errors.New("ルートの外を指すパスです")
	// ErrBadTarget はリクエストターゲットを解釈できないことを表す
	ErrBadTarget = errors.New("不正なリクエストターゲットです")
)

// CleanTarget はリクエストターゲットをルートからの相対パスに正規化する
//
// クエリとフラグメントは捨て、パーセントエンコーディングを復号してから
// "." と ".." を解決する。ルートより上に出る場合は ErrTraversal を返す。
// 戻り値は先頭に "/" を持たないスラッシュ区切りのパス（ルート自体は ""）。
func CleanTarget(target string) (string, error) {
	raw, err := targetPath(target)
	if err != nil {
		return "", err
	}

	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", ErrBadTarget
	}
	if strings.ContainsRune(decoded, 0) {
		return "", ErrBadTarget
	}
	if filepath.Separator != '/' && strings.ContainsRune(decoded, filepath.Separator) {
		return "", ErrBadTarget
	}

	segments := make([]string, 0, strings.Count(decoded, "/"))
	for _, seg := range strings.Split(decoded, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segments) == 0 {
				return "", ErrTraversal
			}
			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, seg)
		}
	}
	return strings.Join(segments, "/"), nil
}

// targetPath はエンコードされたままのパス部分を取り出す
func targetPath(target string) (string, error) {
	if strings.HasPrefix(target, "/") {
		if i := strings.IndexAny(target, "?#"); i >= 0 {
			target = target[:i]
		}
		return target, nil
	}

	// absolute-form (例: http://example.com/index.html)
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrBadTarget
	}
	if p := u.EscapedPath(); p != "" {
		return p, nil
	}
	return "/", nil
}
