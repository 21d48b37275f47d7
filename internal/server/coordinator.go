package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"webserver/internal/shutdown"
)

// ErrGraceExceeded は猶予期間内に終わらなかった接続を強制的に閉じたことを表す
var ErrGraceExceeded = errors.New("猶予期間内に停止できませんでした")

// 強制クローズ後にワーカーの終了を待つ時間
const forceCloseWait = time.Second

// Coordinator は全ホストの停止を調整する
type Coordinator struct {
	signal  *shutdown.Signal
	grace   time.Duration
	log     *slog.Logger
	servers []*HostServer
}

// NewCoordinator は停止処理の調整役を作成する
func NewCoordinator(sig *shutdown.Signal, grace time.Duration, logger *slog.Logger, servers ...*HostServer) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		signal:  sig,
		grace:   grace,
		log:     logger,
		servers: servers,
	}
}

// Shutdown は全ホストを段階的に停止する
//
//  1. 停止処理中に切り替え、新しい接続の受け付けを止める
//  2. 猶予期間内に、キューと処理中の接続が終わるのを待つ
//  3. 終わらなかった接続を強制的に閉じ、ErrGraceExceeded を返す
//
// 2回目以降の呼び出しは最初の呼び出しの完了を待つ。
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.signal.BeginDrain() {
		select {
		case <-c.signal.Stopped():
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	defer c.signal.Stop()

	start := time.Now()
	c.log.Info("停止処理を開始します", "hosts", len(c.servers), "grace", c.grace)

	for _, s := range c.servers {
		s.Stop()
	}

	graceCtx, cancel := context.WithTimeout(ctx, c.grace)
	defer cancel()
	pending := c.waitAll(graceCtx, c.servers)

	if len(pending) == 0 {
		c.log.Info("すべての接続が終了しました", "elapsed", time.Since(start))
		return nil
	}

	forced := 0
	for _, s := range pending {
		n := s.ForceClose()
		forced += n
		c.log.Warn("猶予期間を過ぎたため接続を強制的に閉じました",
			"host", s.Host().Hostname, "connections", n)
	}

	// 閉じられた接続のワーカーはすぐに戻るはず
	waitCtx, cancelWait := context.WithTimeout(context.Background(), forceCloseWait)
	defer cancelWait()
	if left := c.waitAll(waitCtx, pending); len(left) > 0 {
		c.log.Error("終了しないワーカーが残っています", "hosts", len(left))
	}

	return fmt.Errorf("%w: %d 件の接続を強制終了しました", ErrGraceExceeded, forced)
}

// waitAll は各サーバーのワーカー終了を並行して待ち、ctx 内に終わらなかったものを返す
func (c *Coordinator) waitAll(ctx context.Context, servers []*HostServer) []*HostServer {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		pending []*HostServer
	)

	for _, s := range servers {
		wg.Add(1)
		go func(s *HostServer) {
			defer wg.Done()
			if err := s.Wait(ctx); err != nil {
				mu.Lock()
				pending = append(pending, s)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	return pending
}
