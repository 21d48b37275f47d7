// Package session は1つの接続上のリクエスト/レスポンスの繰り返しを扱う
//
// 状態遷移:
//
//	awaitRequest → parseRequest → resolve → respond → (awaitRequest | 終了)
//
// 仕様:
//   - 接続は1つのワーカーだけが所有し、リクエストは到着順に1つずつ処理する
//   - 待機中はアイドルタイムアウトを読み込み期限として設定する
//   - タイムアウト・切断時は応答せずに閉じる
//   - 構文エラーは 400 を返してから閉じる
//   - 停止処理中は、リクエストのデータが届いていない接続の待機をただちに打ち切る
//   - キューで待っていた接続でも、既に届いているリクエストには応答する
package session

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"webserver/internal/host"
	"webserver/internal/http1"
	"webserver/internal/shutdown"
)

// ServerName は Server ヘッダーの値
const ServerName = "webserver"

// MaxDiscardBody は読み捨てるリクエスト本文の上限。超える場合は応答後に閉じる
const MaxDiscardBody = 1 << 20

// DrainReadWindow は停止処理中に、まだリクエストを読んでいない接続のデータを待つ時間
const DrainReadWindow = 100 * time.Millisecond

// 読み込み待ちを即座に打ち切るための過去の時刻
var aLongTimeAgo = time.Unix(1, 0)

// Resolver はリクエストをレスポンスに対応付ける
type Resolver interface {
	Resolve(h host.Config, target string, method http1.Method) *http1.Response
	ErrorResponse(h host.Config, status int) *http1.Response
}

// Options はセッションの設定
type Options struct {
	ID           string
	Host         host.Config
	Resolver     Resolver
	Signal       *shutdown.Signal
	IdleTimeout  time.Duration
	WriteTimeout time.Duration // 0 なら期限なし
	MaxHeaders   int
	Logger       *slog.Logger
}

// ConnState は接続の状態
type ConnState int

const (
	StateIdle ConnState = iota
	StateReading
	StateProcessing
	StateWriting
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateProcessing:
		return "processing"
	case StateWriting:
		return "writing"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session は1つの接続を所有する
type Session struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	opts Options
	log  *slog.Logger

	state    ConnState
	req      *http1.Request
	res      *http1.Response
	started  time.Time
	served   int
	closeNow bool // 本文を読み捨てられなかったなど、応答後に閉じる必要がある
}

type stateFunc func(*Session) stateFunc

// New は接続のセッションを作成する
func New(conn net.Conn, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
		opts: opts,
		log:  logger.With("conn", opts.ID, "peer", remoteAddr(conn)),
	}
}

// Drive は接続が閉じるまでリクエストを処理する
func (s *Session) Drive() {
	s.log.Debug("接続しました")
	defer s.close()

	for state := awaitRequest; state != nil; {
		state = state(s)
	}
}

// Served は応答したリクエスト数を返す
func (s *Session) Served() int {
	return s.served
}

func (s *Session) close() {
	last := s.state
	s.state = StateClosing
	_ = s.conn.Close()
	s.log.Debug("切断しました", "served", s.served, "last_state", last.String())
}

func (s *Session) draining() bool {
	return s.opts.Signal != nil && s.opts.Signal.IsDraining()
}

// watchDrain は停止処理が始まったら待機中の読み込みを打ち切る
//
// Peek で待っている間はバッファにも受信済みのデータもないので、打ち切ってよい。
// 返された関数は監視ゴルーチンの終了まで待つ。
func (s *Session) watchDrain() (stop func()) {
	if s.opts.Signal == nil {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-s.opts.Signal.Draining():
			_ = s.conn.SetReadDeadline(aLongTimeAgo)
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// state funcs

func awaitRequest(s *Session) stateFunc {
	s.state = StateIdle
	s.req, s.res = nil, nil

	deadline := time.Now().Add(s.opts.IdleTimeout)
	stop := func() {}
	draining := s.draining()
	if draining {
		if s.served > 0 {
			s.log.Debug("停止処理中のため待機中の接続を閉じます")
			return nil
		}
		// キューで待っていた接続は、既に届いているリクエストだけを読む
		if s.br.Buffered() == 0 {
			deadline = time.Now().Add(DrainReadWindow)
		}
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		s.log.Debug("読み込み期限の設定に失敗しました", "err", err)
		return nil
	}
	if !draining {
		stop = s.watchDrain()
	}

	_, err := s.br.Peek(1)
	stop()

	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			s.log.Debug("クライアントが接続を閉じました")
		case isTimeout(err) && s.draining():
			s.log.Debug("停止処理中のため待機中の接続を閉じます")
		case isTimeout(err):
			s.log.Debug("アイドルタイムアウト", "timeout", s.opts.IdleTimeout)
		default:
			s.log.Debug("読み込みに失敗しました", "err", err)
		}
		return nil
	}

	// 監視ゴルーチンが期限を書き換えた可能性があるので、リクエストの残りには通常の期限を使う
	if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
		return nil
	}
	s.started = time.Now()
	return parseRequest
}

func parseRequest(s *Session) stateFunc {
	s.state = StateReading

	req, err := http1.ReadRequest(s.br, http1.Limits{MaxHeaders: s.opts.MaxHeaders})
	switch {
	case err == nil:
	case errors.Is(err, http1.ErrMalformed):
		s.log.Info("不正なリクエストを受信しました", "err", err)
		s.res = s.opts.Resolver.ErrorResponse(s.opts.Host, http.StatusBadRequest)
		s.res.Close = true
		return respond
	case errors.Is(err, http1.ErrVersion):
		s.log.Info("未対応のバージョンです", "err", err)
		s.res = s.opts.Resolver.ErrorResponse(s.opts.Host, http.StatusHTTPVersionNotSupported)
		s.res.Close = true
		return respond
	case isTimeout(err):
		s.log.Debug("リクエストの受信中にタイムアウトしました")
		return nil
	default:
		s.log.Debug("リクエストの受信に失敗しました", "err", err)
		return nil
	}

	s.req = req
	s.discardBody()
	return resolve
}

func resolve(s *Session) stateFunc {
	s.state = StateProcessing
	s.res = s.opts.Resolver.Resolve(s.opts.Host, s.req.Target, s.req.Method)
	return respond
}

func respond(s *Session) stateFunc {
	s.state = StateWriting

	keepAlive := s.req != nil && s.req.KeepAlive && !s.res.Close && !s.closeNow && !s.draining()
	if keepAlive {
		s.res.Header.Set("Connection", "keep-alive")
	} else {
		s.res.Header.Set("Connection", "close")
	}
	s.res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	s.res.Header.Set("Server", ServerName)

	var deadline time.Time
	if s.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(s.opts.WriteTimeout)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return nil
	}

	bodyless := s.req != nil && s.req.Method.Kind == http1.KindHead
	err := http1.WriteResponse(s.bw, s.res, bodyless)
	s.logExchange(err)
	if err != nil {
		return nil
	}

	s.served++
	if !keepAlive {
		return nil
	}
	return awaitRequest
}

// discardBody は GET/HEAD では使わないリクエスト本文を読み捨てる
func (s *Session) discardBody() {
	switch {
	case s.req.Chunked:
		s.closeNow = true
	case s.req.ContentLength > MaxDiscardBody:
		s.closeNow = true
	case s.req.ContentLength > 0:
		if _, err := io.CopyN(io.Discard, s.br, s.req.ContentLength); err != nil {
			s.log.Debug("リクエスト本文の読み捨てに失敗しました", "err", err)
			s.closeNow = true
		}
	}
}

func (s *Session) logExchange(err error) {
	attrs := []any{
		"status", s.res.StatusLine(),
		"bytes", s.res.ContentLength,
		"duration", time.Since(s.started),
	}
	if s.req != nil {
		attrs = append(attrs, "method", s.req.Method.String(), "target", s.req.Target)
	}
	if err != nil {
		s.log.Info("レスポンスの送信に失敗しました", append(attrs, "err", err)...)
		return
	}
	s.log.Info("応答しました", attrs...)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
