// Package pool はホストごとの固定サイズのワーカープールを提供する
//
// 責務:
//   - 受け付けた接続をキューに積み、空いたワーカーに渡す
//   - 同時に処理する接続数をワーカー数以下に保つ
//   - 1つの接続の失敗（panic を含む）でワーカーを失わない
//   - 停止時のキュー排出と、猶予切れ時の強制クローズ
//
// 仕様:
//   - キューは上限なしのスライスで、タスクを黙って捨てることはない
//   - キューは sync.Mutex と sync.Cond で保護する
//   - 接続は取り出したワーカーだけが扱う
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
)

// ErrPoolClosed は停止済みのプールにタスクを投入したことを表す
var ErrPoolClosed = errors.New("ワーカープールは停止しています")

// Task はワーカーに渡される受け付け済みの接続
type Task struct {
	ID       string
	Conn     net.Conn
	Accepted time.Time
}

// Handler は1つの接続を最後まで処理する
type Handler func(Task)

// Stats はプールの状態
type Stats struct {
	Workers int    `json:"workers"`
	Active  int64  `json:"active"`
	Queued  int    `json:"queued"`
	Served  uint64 `json:"served"`
}

// Pool は固定数のワーカーと1本のタスクキュー
type Pool struct {
	name    string
	size    int
	handler Handler
	log     *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	closed  bool
	started bool

	wg     sync.WaitGroup
	active atomic.Int64
	served atomic.Uint64

	// キュー内と処理中の接続（強制クローズ用）
	conns *xsync.MapOf[string, net.Conn]
}

// New は size 個のワーカーを持つプールを作成する
func New(name string, size int, handler Handler, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		name:    name,
		size:    size,
		handler: handler,
		log:     logger.With("pool", name),
		conns:   xsync.NewMapOf[string, net.Conn](),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start はワーカーを起動する。2回目以降の呼び出しは何もしない
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Debug("ワーカーを起動しました", "workers", p.size)
}

// Submit は接続をキューに積む
//
// 停止済みの場合は ErrPoolClosed を返し、接続は呼び出し側が閉じる。
func (p *Pool) Submit(conn net.Conn) error {
	task := Task{
		ID:       uuid.New().String(),
		Conn:     conn,
		Accepted: time.Now(),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.conns.Store(task.ID, conn)
	p.queue = append(p.queue, task)
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// Shutdown は新規タスクの受け付けを止める
//
// ワーカーはキューに残ったタスクを処理し終えてから終了する。
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Wait は全ワーカーの終了か ctx の終了まで待つ
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", p.name, ctx.Err())
	}
}

// ForceClose はキュー内と処理中のすべての接続を閉じ、閉じた数を返す
func (p *Pool) ForceClose() int {
	closed := 0
	p.conns.Range(func(id string, conn net.Conn) bool {
		if err := conn.Close(); err == nil {
			closed++
		}
		p.conns.Delete(id)
		return true
	})
	return closed
}

// Stats は現在の状態を返す
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()

	return Stats{
		Workers: p.size,
		Active:  p.active.Load(),
		Queued:  queued,
		Served:  p.served.Load(),
	}
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()

	for {
		task, ok := p.next()
		if !ok {
			p.log.Debug("ワーカーを終了します", "worker", n)
			return
		}
		p.run(task)
	}
}

// next はタスクが来るまで待つ。停止済みでキューが空なら false を返す
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return Task{}, false
	}

	task := p.queue[0]
	p.queue[0] = Task{}
	p.queue = p.queue[1:]
	p.active.Inc()
	return task, true
}

// run は1つのタスクを処理する。panic はここで止める
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("接続の処理中に panic が発生しました",
				"conn", task.ID, "panic", r, "stack", string(debug.Stack()))
		}
		_ = task.Conn.Close()
		p.conns.Delete(task.ID)
		p.active.Dec()
		p.served.Inc()
	}()

	p.handler(task)
}
