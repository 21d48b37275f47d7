// Package resolver はリクエストパスをレスポンスに対応付ける
//
// 責務:
//   - パスの正規化とルート外参照の拒否（シンボリックリンクの実体も確認する）
//   - ディレクトリに対する index.html の解決
//   - 拡張子による Content-Type の決定
//   - エラーページのフォールバック（ホスト固有 → 全体共通 → 組み込み）
//
// 仕様:
//   - (ホスト設定, パス, メソッド) の純粋な写像で、状態を持たない
//   - ファイルの読み込みは Store を通してのみ行う
package resolver

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/puzpuzpuz/xsync/v3"

	"webserver/internal/host"
	"webserver/internal/http1"
)

// IndexFile はディレクトリへのリクエストで返すファイル名
const IndexFile = "index.html"

// Resolver はリクエストからレスポンスを組み立てる
type Resolver struct {
	store    Store
	errorDir string // 全体共通のエラーページディレクトリ
	log      *slog.Logger

	// ホストのルート → リンク解決後の実体パス
	roots *xsync.MapOf[string, string]
}

// New は新しい Resolver を作成する
func New(store Store, globalErrorDir string, logger *slog.Logger) *Resolver {
	if store == nil {
		store = OSStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    store,
		errorDir: globalErrorDir,
		log:      logger,
		roots:    xsync.NewMapOf[string, string](),
	}
}

// Resolve はホストのルート配下でターゲットを解決する
//
// HEAD の場合も GET と同じステータス・ヘッダーを返すが、本文は持たない。
func (r *Resolver) Resolve(h host.Config, target string, method http1.Method) *http1.Response {
	if !method.Served() {
		return r.ErrorResponse(h, method.UnsupportedStatus())
	}

	res := r.resolve(h, target)
	if method.Kind == http1.KindHead {
		res.Body = nil
	}
	return res
}

func (r *Resolver) resolve(h host.Config, target string) *http1.Response {
	rel, err := CleanTarget(target)
	if err != nil {
		r.log.Debug("ターゲットを拒否しました", "host", h.Hostname, "target", target, "err", err)
		return r.ErrorResponse(h, http.StatusBadRequest)
	}

	name := filepath.Join(h.Root, filepath.FromSlash(rel))
	info, err := r.store.Stat(name)
	if err == nil && info.IsDir() {
		name = filepath.Join(name, IndexFile)
		info, err = r.store.Stat(name)
	}
	if err != nil {
		return r.failure(h, name, err)
	}
	if !info.Mode().IsRegular() {
		return r.ErrorResponse(h, http.StatusNotFound)
	}

	inside, err := r.confined(h, name)
	if err != nil {
		return r.failure(h, name, err)
	}
	if !inside {
		r.log.Warn("ルートの外を指すリンクを拒否しました", "host", h.Hostname, "target", target, "path", name)
		return r.ErrorResponse(h, http.StatusForbidden)
	}

	body, err := r.store.ReadFile(name)
	if err != nil {
		return r.failure(h, name, err)
	}

	res := http1.NewResponse(http.StatusOK)
	res.SetBody(ContentType(name), body)
	return res
}

// confined は name の実体がホストのルート配下にあるかを返す
func (r *Resolver) confined(h host.Config, name string) (bool, error) {
	root, ok := r.roots.Load(h.Root)
	if !ok {
		resolved, err := r.store.EvalSymlinks(h.Root)
		if err != nil {
			return false, err
		}
		root = resolved
		r.roots.Store(h.Root, root)
	}

	resolved, err := r.store.EvalSymlinks(name)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

// failure は読み込みエラーを 404 または 500 に振り分ける
func (r *Resolver) failure(h host.Config, name string, err error) *http1.Response {
	if notFound(err) {
		return r.ErrorResponse(h, http.StatusNotFound)
	}
	r.log.Warn("ファイルの読み込みに失敗しました", "host", h.Hostname, "path", name, "err", err)
	return r.ErrorResponse(h, http.StatusInternalServerError)
}

// ErrorResponse はステータスに対応するエラーページを持つレスポンスを返す
//
// {status}.html をホスト固有ディレクトリ、全体共通ディレクトリの順に探し、
// どちらにもなければ組み込みのテキストを本文にする。
func (r *Resolver) ErrorResponse(h host.Config, status int) *http1.Response {
	res := http1.NewResponse(status)
	if status == http.StatusMethodNotAllowed {
		res.Header.Set("Allow", http1.AllowedMethods)
	}

	page := strconv.Itoa(status) + ".html"
	for _, dir := range []string{h.ErrorPages, r.errorDir} {
		if dir == "" {
			continue
		}
		body, err := r.store.ReadFile(filepath.Join(dir, page))
		if err == nil {
			res.SetBody(ContentType(page), body)
			return res
		}
		if !notFound(err) {
			r.log.Warn("エラーページの読み込みに失敗しました", "dir", dir, "page", page, "err", err)
		}
	}

	res.SetBody("text/plain; charset=utf-8", BuiltinErrorBody(status))
	return res
}

// BuiltinErrorBody は組み込みのエラー本文を返す
func BuiltinErrorBody(status int) []byte {
	text := http.StatusText(status)
	if text == "" {
		text = "Error"
	}
	return []byte(fmt.Sprintf("%d %s\n", status, text))
}

func notFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
