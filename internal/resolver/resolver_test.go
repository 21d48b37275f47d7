package resolver

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webserver/internal/host"
	"webserver/internal/http1"
)

// recordingStore は読み込んだパスを記録する Store
type recordingStore struct {
	OSStore
	names []string
}

func (s *recordingStore) Stat(name string) (fs.FileInfo, error) {
	s.names = append(s.names, name)
	return s.OSStore.Stat(name)
}

func (s *recordingStore) ReadFile(name string) ([]byte, error) {
	s.names = append(s.names, name)
	return s.OSStore.ReadFile(name)
}

// failingStore は ReadFile が常に権限エラーになる Store
type failingStore struct {
	OSStore
	target string
}

func (s failingStore) ReadFile(name string) ([]byte, error) {
	if name == s.target {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
	}
	return s.OSStore.ReadFile(name)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setup はテスト用のコンテンツツリーを作成する
//
//	base/
//	  global/404.html
//	  site/index.html
//	  site/sub/page.txt
//	  site/sub/app.js
//	  site/empty/
//	  site-errors/404.html
//	  secret.txt
func setup(t *testing.T) (base string, h host.Config) {
	t.Helper()
	base = t.TempDir()

	writeFile(t, filepath.Join(base, "global", "404.html"), "global 404")
	writeFile(t, filepath.Join(base, "global", "500.html"), "global 500")
	writeFile(t, filepath.Join(base, "site", "index.html"), "<h1>root</h1>")
	writeFile(t, filepath.Join(base, "site", "sub", "page.txt"), "hello, world")
	writeFile(t, filepath.Join(base, "site", "sub", "app.js"), "console.log(1)")
	writeFile(t, filepath.Join(base, "site-errors", "404.html"), "host 404")
	writeFile(t, filepath.Join(base, "secret.txt"), "top secret")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "site", "empty"), 0o755))

	h = host.Config{
		Hostname:   "site.local",
		Root:       filepath.Join(base, "site"),
		Address:    "127.0.0.1:0",
		ErrorPages: filepath.Join(base, "site-errors"),
	}
	return base, h
}

func TestResolveFile(t *testing.T) {
	base, h := setup(t)
	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())

	res := r.Resolve(h, "/sub/page.txt", http1.MethodGet)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "hello, world", string(res.Body))
	assert.EqualValues(t, len("hello, world"), res.ContentLength)
	assert.Equal(t, "text/plain; charset=utf-8", res.Header.Get("Content-Type"))

	res = r.Resolve(h, "/sub/app.js?v=3", http1.MethodGet)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "text/javascript", res.Header.Get("Content-Type"))
}

func TestResolveHead(t *testing.T) {
	base, h := setup(t)
	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())

	for _, target := range []string{"/sub/page.txt", "/", "/missing"} {
		get := r.Resolve(h, target, http1.MethodGet)
		head := r.Resolve(h, target, http1.MethodHead)

		assert.Equal(t, get.Status, head.Status, target)
		assert.Equal(t, get.Header, head.Header, target)
		assert.Equal(t, get.ContentLength, head.ContentLength, target)
		assert.Empty(t, head.Body, target)
	}
}

func TestResolveDirectoryIndex(t *testing.T) {
	base, h := setup(t)
	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())

	res := r.Resolve(h, "/", http1.MethodGet)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "<h1>root</h1>", string(res.Body))
	assert.Equal(t, "text/html", res.Header.Get("Content-Type"))

	res = r.Resolve(h, "/empty/", http1.MethodGet)
	assert.Equal(t, 404, res.Status)
}

func TestResolveErrorPageChain(t *testing.T) {
	base, h := setup(t)

	t.Run("ホスト固有", func(t *testing.T) {
		r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())
		res := r.Resolve(h, "/missing.html", http1.MethodGet)
		assert.Equal(t, 404, res.Status)
		assert.Equal(t, "host 404", string(res.Body))
		assert.Equal(t, "text/html", res.Header.Get("Content-Type"))
	})

	t.Run("全体共通", func(t *testing.T) {
		r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())
		noPages := h
		noPages.ErrorPages = ""
		res := r.Resolve(noPages, "/missing.html", http1.MethodGet)
		assert.Equal(t, 404, res.Status)
		assert.Equal(t, "global 404", string(res.Body))
	})

	t.Run("組み込み", func(t *testing.T) {
		r := New(OSStore{}, "", discardLogger())
		noPages := h
		noPages.ErrorPages = ""
		res := r.Resolve(noPages, "/missing.html", http1.MethodGet)
		assert.Equal(t, 404, res.Status)
		assert.Equal(t, "404 Not Found\n", string(res.Body))
		assert.Equal(t, "text/plain; charset=utf-8", res.Header.Get("Content-Type"))
	})
}

func TestResolveNotADirectory(t *testing.T) {
	base, h := setup(t)
	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())

	res := r.Resolve(h, "/sub/page.txt/extra", http1.MethodGet)
	assert.Equal(t, 404, res.Status)
}

func TestResolveReadFailure(t *testing.T) {
	base, h := setup(t)
	store := failingStore{target: filepath.Join(h.Root, "sub", "page.txt")}
	r := New(store, filepath.Join(base, "global"), discardLogger())

	res := r.Resolve(h, "/sub/page.txt", http1.MethodGet)
	assert.Equal(t, 500, res.Status)
	assert.Equal(t, "global 500", string(res.Body))
}

func TestResolveTraversal(t *testing.T) {
	base, h := setup(t)

	targets := []string{
		"/../secret.txt",
		"/sub/../../secret.txt",
		"/%2e%2e/secret.txt",
		"/..%2fsecret.txt",
		"/sub/%2E%2E/%2E%2E/secret.txt",
		"http://site.local/../secret.txt",
	}
	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			store := &recordingStore{}
			r := New(store, filepath.Join(base, "global"), discardLogger())

			res := r.Resolve(h, target, http1.MethodGet)
			assert.Equal(t, 400, res.Status)
			assert.NotContains(t, string(res.Body), "top secret")
			for _, name := range store.names {
				assert.False(t, strings.HasSuffix(name, "secret.txt"), "ルート外を読み込みました: %s", name)
			}
		})
	}
}

func TestResolveInsideRootDotDot(t *testing.T) {
	base, h := setup(t)
	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())

	res := r.Resolve(h, "/sub/../sub/./page.txt", http1.MethodGet)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "hello, world", string(res.Body))
}

func TestResolveSymlinkEscape(t *testing.T) {
	base, h := setup(t)
	writeFile(t, filepath.Join(base, "outside", "index.html"), "outside index")
	require.NoError(t, os.Symlink(filepath.Join(base, "secret.txt"), filepath.Join(h.Root, "link.txt")))
	require.NoError(t, os.Symlink(filepath.Join(base, "outside"), filepath.Join(h.Root, "linkdir")))

	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())

	for _, target := range []string{"/link.txt", "/linkdir/", "/linkdir/index.html"} {
		for _, method := range []http1.Method{http1.MethodGet, http1.MethodHead} {
			res := r.Resolve(h, target, method)
			assert.Equal(t, 403, res.Status, target)
			assert.NotContains(t, string(res.Body), "secret", target)
			assert.NotContains(t, string(res.Body), "outside", target)
		}
	}
}

func TestResolveSymlinkInsideRoot(t *testing.T) {
	base, h := setup(t)
	require.NoError(t, os.Symlink(filepath.Join(h.Root, "sub", "page.txt"), filepath.Join(h.Root, "alias.txt")))

	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())
	res := r.Resolve(h, "/alias.txt", http1.MethodGet)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "hello, world", string(res.Body))

	// ルート自体がリンクでも配下のファイルは配信できる
	linked := h
	linked.Root = filepath.Join(base, "site-link")
	require.NoError(t, os.Symlink(h.Root, linked.Root))

	res = r.Resolve(linked, "/sub/page.txt", http1.MethodGet)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "hello, world", string(res.Body))
}

func TestResolveAbsoluteForm(t *testing.T) {
	base, h := setup(t)
	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())

	res := r.Resolve(h, "http://site.local/sub/page.txt", http1.MethodGet)
	assert.Equal(t, 200, res.Status)

	res = r.Resolve(h, "http://site.local", http1.MethodGet)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "<h1>root</h1>", string(res.Body))

	res = r.Resolve(h, "*", http1.MethodGet)
	assert.Equal(t, 400, res.Status)
}

func TestResolveUnsupportedMethod(t *testing.T) {
	base, h := setup(t)
	r := New(OSStore{}, filepath.Join(base, "global"), discardLogger())

	res := r.Resolve(h, "/", http1.ParseMethod("POST"))
	assert.Equal(t, 405, res.Status)
	assert.Equal(t, "GET, HEAD", res.Header.Get("Allow"))

	res = r.Resolve(h, "/", http1.ParseMethod("BREW"))
	assert.Equal(t, 501, res.Status)
	assert.Equal(t, "501 Not Implemented\n", string(res.Body))
}

func TestCleanTarget(t *testing.T) {
	testCases := []struct {
		target  string
		want    string
		wantErr error
	}{
		{"/", "", nil},
		{"/a/b.html", "a/b.html", nil},
		{"/a//b/./c", "a/b/c", nil},
		{"/a/b/../c", "a/c", nil},
		{"/a%20b.txt", "a b.txt", nil},
		{"/a?x=/../..", "a", nil},
		{"/..", "", ErrTraversal},
		{"/a/../..", "", ErrTraversal},
		{"/%zz", "", ErrBadTarget},
		{"/a%00b", "", ErrBadTarget},
		{"ftp://x/a", "", ErrBadTarget},
	}

	for _, tc := range testCases {
		t.Run(tc.target, func(t *testing.T) {
			got, err := CleanTarget(tc.target)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/html", ContentType("index.html"))
	assert.Equal(t, "text/html", ContentType("INDEX.HTM"))
	assert.Equal(t, "text/css", ContentType("a/b/style.css"))
	assert.Equal(t, "image/png", ContentType("logo.png"))
	assert.Equal(t, DefaultContentType, ContentType("archive.tar.zst"))
	assert.Equal(t, DefaultContentType, ContentType("Makefile"))
}
