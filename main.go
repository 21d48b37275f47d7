package main

import (
	"context"
	"errors"
	"log"
	"os"

	"webserver/internal/config"
	"webserver/internal/logging"
	"webserver/internal/server"
)

func main() {
	// 設定を読み込む（WEBSERVER_CONFIG / WEBSERVER_* 環境変数）
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer closeLog()

	// コンテキストを作成
	ctx := context.Background()

	// サーバーを作成
	srv, err := server.FromConfig(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("サーバーの作成に失敗しました: %v", err)
	}

	// サーバーを起動
	if err := srv.Start(ctx); err != nil {
		logger.Error("サーバーが異常終了しました", "err", err)
		_ = closeLog()
		if errors.Is(err, server.ErrGraceExceeded) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
