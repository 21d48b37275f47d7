// Package logging は設定から slog.Logger を組み立てる
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"webserver/internal/config"
)

// New は設定に従ってロガーを作成する
//
// 返される close 関数は出力先がファイルのときだけファイルを閉じる。
func New(cfg config.LogConfig) (*slog.Logger, func() error, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("不正なログレベル %q: %w", cfg.Level, err)
		}
	}

	w, closeFn, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("不正なログ形式: %q", cfg.Format)
	}

	return slog.New(handler), closeFn, nil
}

func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch output {
	case "", "stderr":
		return os.Stderr, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, nil, fmt.Errorf("ログディレクトリの作成に失敗: %w", err)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("ログファイルを開けません: %w", err)
	}
	return f, f.Close, nil
}
