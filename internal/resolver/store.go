package resolver

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Store はコンテンツ読み込みの能力を表す
//
// ReadFile と Stat は存在しないパスに対して fs.ErrNotExist を
// ラップしたエラーを返すこと。
// EvalSymlinks はシンボリックリンクを解決した実体のパスを返す。
type Store interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	EvalSymlinks(name string) (string, error)
}

// OSStore はローカルファイルシステムを読む Store
type OSStore struct{}

// Stat はファイル情報を返す
func (OSStore) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// ReadFile はファイルの内容をすべて読み込む
func (OSStore) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// EvalSymlinks はリンクを解決した絶対パスを返す
func (OSStore) EvalSymlinks(name string) (string, error) {
	resolved, err := filepath.EvalSymlinks(name)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}
