package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"webserver/internal/config"
	"webserver/internal/host"
	"webserver/internal/resolver"
	"webserver/internal/shutdown"
)

// ErrNoHosts はどのホストもバインドできなかったことを表す
var ErrNoHosts = errors.New("バインドできたホストがありません")

// Server は全ホストのサーバーと管理用エンドポイントを管理する構造体
type Server struct {
	config   *config.Config
	registry *host.Registry
	log      *slog.Logger
	signal   *shutdown.Signal
	resolver *resolver.Resolver

	hosts       []*HostServer
	coordinator *Coordinator
	acceptors   sync.WaitGroup

	admin     *http.Server
	adminAddr net.Addr

	ready   chan struct{}
	started time.Time
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, registry *host.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   cfg,
		registry: registry,
		log:      logger,
		signal:   shutdown.NewSignal(),
		resolver: resolver.New(resolver.OSStore{}, cfg.GlobalErrorPages(), logger),
		ready:    make(chan struct{}),
	}
}

// FromConfig は設定からホストを解決してサーバーを作成する
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	entries, err := cfg.HostConfigs(ctx, nil, logger)
	if err != nil {
		return nil, err
	}
	registry, err := host.NewRegistry(entries)
	if err != nil {
		return nil, fmt.Errorf("ホスト一覧の作成に失敗: %w", err)
	}
	return New(cfg, registry, logger), nil
}

// Start はサーバーを起動し、停止するまでブロックする
//
// ctx の終了か SIGINT / SIGTERM で停止処理に入る。
// 猶予期間内に停止できなかった場合は ErrGraceExceeded を返す。
func (s *Server) Start(ctx context.Context) error {
	if err := s.bind(ctx); err != nil {
		return err
	}

	s.started = time.Now()

	// シャットダウン用のチャンネル
	errCh := make(chan error, len(s.hosts)+1)

	if err := s.startAdmin(errCh); err != nil {
		s.log.Warn("管理用エンドポイントを起動できません", "err", err)
	}

	s.coordinator = NewCoordinator(s.signal, s.config.Server.GracePeriod.Std(), s.log, s.hosts...)

	for _, hs := range s.hosts {
		s.acceptors.Add(1)
		go func(hs *HostServer) {
			defer s.acceptors.Done()
			if err := hs.Run(); err != nil {
				errCh <- fmt.Errorf("%s: %w", hs.Host().Hostname, err)
			}
		}(hs)
	}
	close(s.ready)
	s.log.Info("サーバーを起動しました", "hosts", len(s.hosts))

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.log.Info("シグナルを受信しました", "signal", sig.String())
	case runErr = <-errCh:
		s.log.Error("サーバーでエラーが発生しました", "err", runErr)
	}

	// グレースフルシャットダウン
	return errors.Join(runErr, s.Shutdown())
}

// bind は全ホストのリスナーを開く。失敗したホストは警告を出して読み飛ばす
func (s *Server) bind(ctx context.Context) error {
	for _, h := range s.registry.Hosts() {
		hs := NewHostServer(h, HostOptions{
			Resolver:     s.resolver,
			Signal:       s.signal,
			Workers:      s.config.Server.WorkersPerHost,
			IdleTimeout:  s.config.Server.KeepAlive.Std(),
			WriteTimeout: s.config.Server.WriteTimeout.Std(),
			MaxHeaders:   s.config.Server.MaxHeaders,
			Logger:       s.log,
		})
		if err := hs.Listen(ctx); err != nil {
			s.log.Warn("ホストを無効にします", "host", h.Hostname, "err", err)
			continue
		}
		s.hosts = append(s.hosts, hs)
	}

	if len(s.hosts) == 0 {
		return ErrNoHosts
	}
	return nil
}

func (s *Server) startAdmin(errCh chan<- error) error {
	addr := s.config.AdminAddress()
	if addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.adminAddr = ln.Addr()
	s.admin = &http.Server{
		Handler:           s.adminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info("管理用エンドポイントを起動しています", "address", ln.Addr().String())
		if err := s.admin.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("管理用エンドポイントの起動に失敗: %w", err)
		}
	}()
	return nil
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	if s.coordinator == nil {
		return nil
	}
	s.log.Info("サーバーをシャットダウンしています...")

	err := s.coordinator.Shutdown(context.Background())
	s.acceptors.Wait()

	if s.admin != nil {
		// 5秒のタイムアウトを設定
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if adminErr := s.admin.Shutdown(ctx); adminErr != nil {
			s.log.Warn("管理用エンドポイントの停止に失敗しました", "err", adminErr)
		}
	}

	if err != nil {
		return err
	}
	s.log.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// Ready は全リスナーが開いた時点で閉じられる
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Hosts は起動中のホストサーバーを返す。Ready の後に呼ぶ
func (s *Server) Hosts() []*HostServer {
	return s.hosts
}

// AdminAddr は管理用エンドポイントのアドレスを返す。無効なら nil
func (s *Server) AdminAddr() net.Addr {
	return s.adminAddr
}

// State は停止処理の状態を返す
func (s *Server) State() shutdown.State {
	return s.signal.State()
}
