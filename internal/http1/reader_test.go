package http1

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readString(s string) (*Request, error) {
	return ReadRequest(bufio.NewReader(strings.NewReader(s)), Limits{})
}

func TestReadRequest(t *testing.T) {
	req, err := readString("GET /sub/a.html HTTP/1.1\r\nHost: www.example.com\r\nX-Multi: 1\r\nx-multi: 2\r\n\r\n")
	require.NoError(t, err)

	assert.Equal(t, MethodGet, req.Method)
	assert.Equal(t, "/sub/a.html", req.Target)
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, "www.example.com", req.Header.Get("host"))
	assert.Equal(t, []string{"1", "2"}, req.Header.Values("X-Multi"))
	assert.True(t, req.KeepAlive)
}

func TestReadRequestKeepAlive(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want bool
	}{
		{"HTTP/1.1 既定", "GET / HTTP/1.1\r\n\r\n", true},
		{"HTTP/1.1 close", "GET / HTTP/1.1\r\nConnection: close\r\n\r\n", false},
		{"HTTP/1.1 Close 大文字", "GET / HTTP/1.1\r\nConnection: Upgrade, Close\r\n\r\n", false},
		{"HTTP/1.0 既定", "GET / HTTP/1.0\r\n\r\n", false},
		{"HTTP/1.0 keep-alive", "GET / HTTP/1.0\r\nConnection: Keep-Alive\r\n\r\n", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := readString(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, req.KeepAlive)
		})
	}
}

func TestReadRequestMalformed(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{"フィールド不足", "GET /\r\n\r\n"},
		{"フィールド過多", "GET / HTTP/1.1 extra\r\n\r\n"},
		{"不正なメソッド", "G(T / HTTP/1.1\r\n\r\n"},
		{"不正なバージョン", "GET / HTTX/1.1\r\n\r\n"},
		{"コロンなし", "GET / HTTP/1.1\r\nHost www.example.com\r\n\r\n"},
		{"ヘッダー名に空白", "GET / HTTP/1.1\r\nHost : x\r\n\r\n"},
		{"折り返し", "GET / HTTP/1.1\r\nX-A: 1\r\n  2\r\n\r\n"},
		{"不正な Content-Length", "GET / HTTP/1.1\r\nContent-Length: -1\r\n\r\n"},
		{"矛盾する Content-Length", "GET / HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n"},
		{"制御文字を含むターゲット", "GET /a\x01b HTTP/1.1\r\n\r\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := readString(tc.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)

			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func TestReadRequestTooManyHeaders(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nA: 1\r\nB: 2\r\nC: 3\r\n\r\n"

	_, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), Limits{MaxHeaders: 2})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ReadRequest(bufio.NewReader(strings.NewReader(raw)), Limits{MaxHeaders: 3})
	assert.NoError(t, err)
}

func TestReadRequestLineTooLong(t *testing.T) {
	raw := "GET /" + strings.Repeat("a", 100) + " HTTP/1.1\r\n\r\n"
	_, err := ReadRequest(bufio.NewReaderSize(strings.NewReader(raw), 16), Limits{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadRequestVersion(t *testing.T) {
	_, err := readString("GET / HTTP/2.0\r\n\r\n")
	assert.ErrorIs(t, err, ErrVersion)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestReadRequestEOF(t *testing.T) {
	_, err := readString("")
	assert.Equal(t, io.EOF, err)

	_, err = readString("GET / HTTP/1.1\r\nHost: x\r\n")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadRequestFraming(t *testing.T) {
	req, err := readString("GET / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	require.NoError(t, err)
	assert.EqualValues(t, 5, req.ContentLength)
	assert.False(t, req.Chunked)

	req, err = readString("GET / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n")
	require.NoError(t, err)
	assert.True(t, req.Chunked)
}

func TestReadRequestLeadingBlankLine(t *testing.T) {
	req, err := readString("\r\nHEAD /x HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, MethodHead, req.Method)
}

func TestReadRequestPipelined(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n"))

	first, err := ReadRequest(br, Limits{})
	require.NoError(t, err)
	second, err := ReadRequest(br, Limits{})
	require.NoError(t, err)

	assert.Equal(t, "/a", first.Target)
	assert.Equal(t, "/b", second.Target)
}

func TestParseMethod(t *testing.T) {
	testCases := []struct {
		name       string
		served     bool
		wantStatus int
	}{
		{"GET", true, 0},
		{"HEAD", true, 0},
		{"POST", false, 405},
		{"DELETE", false, 405},
		{"BREW", false, 501},
		{"get", false, 501},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := ParseMethod(tc.name)
			assert.Equal(t, tc.served, m.Served())
			assert.Equal(t, tc.name, m.String())
			if !tc.served {
				assert.Equal(t, KindUnsupported, m.Kind)
				assert.Equal(t, tc.wantStatus, m.UnsupportedStatus())
			}
		})
	}
}
