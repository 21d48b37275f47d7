// Package shutdown はプロセス全体の停止状態を管理する
//
// 状態は Running → Draining → Stopped の一方向にのみ遷移し、
// 元に戻ることはない。各遷移は一度だけ成功する。
// 受け付けループやワーカーは State() を参照するか、
// Draining() / Stopped() のチャンネルを待って状態を監視する。
package shutdown

import (
	"go.uber.org/atomic"
)

// State は停止シーケンスの状態
type State int32

const (
	StateRunning  State = iota // 通常稼働中
	StateDraining              // 新規受け付けを停止し、処理中の接続を待機中
	StateStopped               // 停止完了
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Signal はゴルーチン間で共有する停止シグナル
type Signal struct {
	state    atomic.Int32
	draining chan struct{}
	stopped  chan struct{}
}

// NewSignal は Running 状態のシグナルを作成する
func NewSignal() *Signal {
	return &Signal{
		draining: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// State は現在の状態を返す
func (s *Signal) State() State {
	return State(s.state.Load())
}

// IsDraining は Draining 以降の状態なら true を返す
func (s *Signal) IsDraining() bool {
	return s.State() >= StateDraining
}

// BeginDrain は Running から Draining へ遷移する
//
// 遷移に成功した最初の呼び出しだけが true を返す。
func (s *Signal) BeginDrain() bool {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return false
	}
	close(s.draining)
	return true
}

// Stop は Draining から Stopped へ遷移する
//
// Running から直接呼ばれた場合は Draining を経由する。
func (s *Signal) Stop() bool {
	s.BeginDrain()
	if !s.state.CompareAndSwap(int32(StateDraining), int32(StateStopped)) {
		return false
	}
	close(s.stopped)
	return true
}

// Draining は Draining へ遷移した時点でクローズされるチャンネルを返す
func (s *Signal) Draining() <-chan struct{} {
	return s.draining
}

// Stopped は Stopped へ遷移した時点でクローズされるチャンネルを返す
func (s *Signal) Stopped() <-chan struct{} {
	return s.stopped
}
