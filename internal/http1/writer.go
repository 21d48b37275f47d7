package http1

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
)

// WriteResponse はステータス行・ヘッダー・本文を書き込む
//
// Content-Length は常に res.ContentLength から設定する。
// bodyless が true（HEAD への応答）の場合は本文を送らない。
func WriteResponse(w io.Writer, res *Response, bodyless bool) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}

	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))

	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", res.Status, http.StatusText(res.Status)); err != nil {
		return err
	}

	keys := make([]string, 0, len(res.Header))
	for k := range res.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range res.Header[k] {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}

	if !bodyless && len(res.Body) > 0 {
		if _, err := bw.Write(res.Body); err != nil {
			return err
		}
	}
	return bw.Flush()
}
