package http1

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	// ErrMalformed は構文的に不正なリクエストを表す（400）
	ErrMalformed = errors.New("不正なリクエスト")
	// ErrVersion は HTTP/1.x 以外のバージョンを表す（505）
	ErrVersion = errors.New("未対応のHTTPバージョン")
)

// ParseError はリクエストの解析失敗の詳細
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMalformed, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformed
}

func malformed(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Limits はリクエスト解析時の上限
type Limits struct {
	MaxHeaders int // ヘッダー行数の上限（0 なら DefaultMaxHeaders）
}

// DefaultMaxHeaders はヘッダー行数の既定の上限
const DefaultMaxHeaders = 512

// リクエストラインの前に許容する空行の数
const maxLeadingBlankLines = 4

// ReadRequest はリクエストラインとヘッダーを読み込んで解析する
//
// 1バイトも読まずに接続が閉じられた場合は io.EOF を返す。
// 構文エラーは *ParseError、HTTP/1.x 以外は ErrVersion を返す。
// 読み込みのタイムアウトなど下位の I/O エラーはそのまま返す。
// 本文は読まない。
func ReadRequest(br *bufio.Reader, limits Limits) (*Request, error) {
	maxHeaders := limits.MaxHeaders
	if maxHeaders <= 0 {
		maxHeaders = DefaultMaxHeaders
	}

	var line string
	var err error
	for i := 0; ; i++ {
		line, err = readLine(br, i == 0)
		if err != nil {
			return nil, err
		}
		if line != "" {
			break
		}
		if i >= maxLeadingBlankLines {
			return nil, malformed("リクエストラインがありません")
		}
	}

	req, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	if err := readHeaders(br, req, maxHeaders); err != nil {
		return nil, err
	}

	if err := parseFraming(req); err != nil {
		return nil, err
	}

	req.KeepAlive = keepAlive(req)
	return req, nil
}

// readLine は CRLF または LF で終わる1行を読み込む
//
// first が true で何も読まずに EOF になった場合のみ io.EOF を返す。
func readLine(br *bufio.Reader, first bool) (string, error) {
	raw, err := br.ReadSlice('\n')
	if err != nil {
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			return "", malformed("行が長すぎます")
		case errors.Is(err, io.EOF):
			if first && len(raw) == 0 {
				return "", io.EOF
			}
			return "", io.ErrUnexpectedEOF
		default:
			return "", err
		}
	}
	raw = bytes.TrimSuffix(raw[:len(raw)-1], []byte{'\r'})
	return string(raw), nil
}

func parseRequestLine(line string) (*Request, error) {
	fields := strings.Split(line, " ")
	if len(fields) != 3 {
		return nil, malformed("リクエストラインの形式が不正です: %q", line)
	}
	method, target, proto := fields[0], fields[1], fields[2]

	// メソッドはトークン文字のみ
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, malformed("不正なメソッド: %q", method)
	}
	if target == "" || strings.ContainsFunc(target, isCTL) {
		return nil, malformed("不正なターゲット: %q", target)
	}

	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		return nil, malformed("不正なバージョン: %q", proto)
	}
	if major != 1 {
		return nil, fmt.Errorf("%w: %s", ErrVersion, proto)
	}

	return &Request{
		Method:     ParseMethod(method),
		Target:     target,
		Proto:      proto,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     make(http.Header),
	}, nil
}

func readHeaders(br *bufio.Reader, req *Request, maxHeaders int) error {
	for count := 0; ; count++ {
		line, err := readLine(br, false)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		if count >= maxHeaders {
			return malformed("ヘッダーが多すぎます（上限 %d）", maxHeaders)
		}
		// obs-fold は受け付けない
		if line[0] == ' ' || line[0] == '\t' {
			return malformed("折り返されたヘッダーは未対応です")
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return malformed("ヘッダーの形式が不正です: %q", line)
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return malformed("不正なヘッダー名: %q", name)
		}
		value = strings.Trim(value, " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return malformed("不正なヘッダー値: %s", name)
		}
		req.Header.Add(name, value)
	}
}

// parseFraming は本文の長さに関するヘッダーを解釈する
func parseFraming(req *Request) error {
	if len(req.Header.Values("Transfer-Encoding")) > 0 {
		req.Chunked = true
		return nil
	}

	values := req.Header.Values("Content-Length")
	if len(values) == 0 {
		return nil
	}
	first := strings.TrimSpace(values[0])
	for _, v := range values[1:] {
		if strings.TrimSpace(v) != first {
			return malformed("Content-Length が矛盾しています")
		}
	}
	n, err := strconv.ParseInt(first, 10, 64)
	if err != nil || n < 0 {
		return malformed("不正な Content-Length: %q", first)
	}
	req.ContentLength = n
	return nil
}

// keepAlive は HTTP/1.1 では close 指定がなければ継続、
// HTTP/1.0 では keep-alive 指定がある場合のみ継続とする
func keepAlive(req *Request) bool {
	conn := req.Header.Values("Connection")
	if req.ProtoAtLeast(1, 1) {
		return !httpguts.HeaderValuesContainsToken(conn, "close")
	}
	return httpguts.HeaderValuesContainsToken(conn, "keep-alive")
}

func isCTL(r rune) bool {
	return r < ' ' || r == 0x7f
}
