package http1

import (
	"net/http"
	"strconv"
)

// MethodKind はリクエストメソッドの種別
type MethodKind uint8

const (
	KindUnsupported MethodKind = iota // GET/HEAD 以外
	KindGet
	KindHead
)

// Method はリクエストメソッドを表すタグ付きの値
//
// 配信するのは GET と HEAD のみで、それ以外は Name に元のトークンを保持する。
type Method struct {
	Kind MethodKind
	Name string
}

var (
	MethodGet  = Method{Kind: KindGet, Name: http.MethodGet}
	MethodHead = Method{Kind: KindHead, Name: http.MethodHead}
)

// 405 を返す既知のメソッド。それ以外のトークンは 501 になる
var knownMethods = map[string]struct{}{
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
	http.MethodConnect: {},
}

// AllowedMethods は Allow ヘッダーに載せるメソッド一覧
const AllowedMethods = "GET, HEAD"

// ParseMethod はメソッドトークンを Method に変換する
func ParseMethod(name string) Method {
	switch name {
	case http.MethodGet:
		return MethodGet
	case http.MethodHead:
		return MethodHead
	default:
		return Method{Kind: KindUnsupported, Name: name}
	}
}

// Served は GET か HEAD なら true を返す
func (m Method) Served() bool {
	return m.Kind == KindGet || m.Kind == KindHead
}

// Known は標準メソッドだが配信対象外のものなら true を返す
func (m Method) Known() bool {
	_, ok := knownMethods[m.Name]
	return ok
}

// UnsupportedStatus は配信対象外のメソッドに返すステータスコード
func (m Method) UnsupportedStatus() int {
	if m.Known() {
		return http.StatusMethodNotAllowed
	}
	return http.StatusNotImplemented
}

func (m Method) String() string {
	return m.Name
}

// Request は解析済みのリクエストヘッダー部
type Request struct {
	Method     Method
	Target     string // リクエストライン上のターゲット（そのまま）
	Proto      string // 例: HTTP/1.1
	ProtoMajor int
	ProtoMinor int
	Header     http.Header

	// KeepAlive はバージョンの既定値と Connection ヘッダーから導出した値
	KeepAlive bool

	// ContentLength は Content-Length ヘッダーの値（なければ 0）
	ContentLength int64

	// Chunked は Transfer-Encoding が指定されていれば true
	// 本文の長さが分からないため、この接続は応答後に閉じる
	Chunked bool
}

// ProtoAtLeast はリクエストのバージョンが major.minor 以上かを返す
func (r *Request) ProtoAtLeast(major, minor int) bool {
	return r.ProtoMajor > major || r.ProtoMajor == major && r.ProtoMinor >= minor
}

// Response は送信するレスポンス
type Response struct {
	Status int
	Header http.Header

	// Body は送信する本文。HEAD では送信されないが ContentLength は維持される
	Body []byte

	// ContentLength は本文の長さ。Body を読み込まずに長さだけ分かっている場合にも使う
	ContentLength int64

	// Close は応答後に接続を閉じる必要があることを示す
	Close bool
}

// NewResponse は本文なしのレスポンスを作成する
func NewResponse(status int) *Response {
	return &Response{
		Status: status,
		Header: make(http.Header),
	}
}

// SetBody は本文と Content-Type を設定する
func (r *Response) SetBody(contentType string, body []byte) {
	r.Header.Set("Content-Type", contentType)
	r.Body = body
	r.ContentLength = int64(len(body))
}

// StatusLine はログ用のステータス行を返す
func (r *Response) StatusLine() string {
	return strconv.Itoa(r.Status) + " " + http.StatusText(r.Status)
}
