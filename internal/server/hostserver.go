package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"webserver/internal/host"
	"webserver/internal/pool"
	"webserver/internal/session"
	"webserver/internal/shutdown"
)

// ErrNotListening は Listen 前に Run を呼んだことを表す
var ErrNotListening = errors.New("リスナーが開かれていません")

// accept エラー時の待機時間の範囲
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// HostOptions はホストごとのサーバー設定
type HostOptions struct {
	Resolver     session.Resolver
	Signal       *shutdown.Signal
	Workers      int
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	MaxHeaders   int
	Logger       *slog.Logger
}

// HostServer は1つの仮想ホストの受け付けループ
type HostServer struct {
	host host.Config
	opts HostOptions
	log  *slog.Logger
	pool *pool.Pool

	mu       sync.Mutex
	listener net.Listener
	stopOnce sync.Once

	requests atomic.Uint64 // 応答したリクエスト数
}

// NewHostServer はホストのサーバーを作成する
func NewHostServer(h host.Config, opts HostOptions) *HostServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Signal == nil {
		opts.Signal = shutdown.NewSignal()
	}

	s := &HostServer{
		host: h,
		opts: opts,
		log:  logger.With("host", h.Hostname),
	}
	s.pool = pool.New(h.Hostname, opts.Workers, s.serve, s.log)
	return s
}

// Listen はホストのアドレスでリッスンを開始する
func (s *HostServer) Listen(ctx context.Context) error {
	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(ctx, "tcp", s.host.Address)
	if err != nil {
		return fmt.Errorf("%s のバインドに失敗: %w", s.host.Address, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("リッスンを開始しました", "address", ln.Addr().String(), "root", s.host.Root)
	return nil
}

// Run は接続を受け付けてワーカープールに渡す
//
// Stop でリスナーが閉じられると nil を返す。
func (s *HostServer) Run() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	s.pool.Start()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.opts.Signal.IsDraining() {
				s.log.Debug("接続の受け付けを終了します")
				return nil
			}

			// 一時的なエラーは待ってから再試行する
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.log.Warn("接続の受け付けに失敗しました。再試行します",
				"err", err, "retry_in", delay, "resource_exhausted", isResourceExhausted(err))
			time.Sleep(delay)
			continue
		}
		delay = 0

		if s.opts.Signal.IsDraining() {
			// 停止処理中に届いた接続は受け付けない
			_ = conn.Close()
			return nil
		}

		if err := s.pool.Submit(conn); err != nil {
			_ = conn.Close()
			if errors.Is(err, pool.ErrPoolClosed) {
				return nil
			}
			s.log.Warn("接続をキューに積めませんでした", "err", err)
		}
	}
}

// Stop はリスナーを閉じ、ワーカープールに停止を伝える
//
// キューに残っている接続と処理中の接続はそのまま処理される。
func (s *HostServer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()

		if ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("リスナーのクローズに失敗しました", "err", err)
			}
		}
		s.pool.Shutdown()
	})
}

// Wait はワーカーがすべて終了するか ctx が終わるまで待つ
func (s *HostServer) Wait(ctx context.Context) error {
	return s.pool.Wait(ctx)
}

// ForceClose は残っている接続を閉じ、閉じた数を返す
func (s *HostServer) ForceClose() int {
	return s.pool.ForceClose()
}

// Addr は実際にリッスンしているアドレスを返す
func (s *HostServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Host はホストの設定を返す
func (s *HostServer) Host() host.Config {
	return s.host
}

// Requests は終了した接続で応答したリクエストの累計を返す
func (s *HostServer) Requests() uint64 {
	return s.requests.Load()
}

// Pool はワーカープールを返す
func (s *HostServer) Pool() *pool.Pool {
	return s.pool
}

// serve はワーカー上で1つの接続を処理する
func (s *HostServer) serve(task pool.Task) {
	s.log.Debug("ワーカーに割り当てました", "conn", task.ID, "queued_for", time.Since(task.Accepted))

	sess := session.New(task.Conn, session.Options{
		ID:           task.ID,
		Host:         s.host,
		Resolver:     s.opts.Resolver,
		Signal:       s.opts.Signal,
		IdleTimeout:  s.opts.IdleTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		MaxHeaders:   s.opts.MaxHeaders,
		Logger:       s.log,
	})
	sess.Drive()
	s.requests.Add(uint64(sess.Served()))
}
