// Package main は webserver コマンドの実装です
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"webserver/internal/config"
	"webserver/internal/logging"
	"webserver/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイル (.yaml / .toml)")
		dir        = flag.String("dir", "", "ホストごとのサブディレクトリを置いたコンテンツディレクトリ")
		port       = flag.Int("port", 0, "検出したホストのポート (デフォルト: 8080)")
		keepAlive  = flag.Duration("keep-alive", 0, "アイドル接続を閉じるまでの時間 (デフォルト: 2s)")
		threads    = flag.Int("threads", 0, "ホストごとのワーカー数 (デフォルト: 4)")
		grace      = flag.Duration("grace", 0, "停止時に処理中の接続を待つ時間 (デフォルト: 5s)")
		admin      = flag.String("admin", "", "管理用エンドポイントのアドレス (例: 127.0.0.1:9090)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("webserver - 仮想ホスト対応の静的ファイルサーバー")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *dir != "" {
		cfg.Server.ContentDir = *dir
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *keepAlive != 0 {
		cfg.Server.KeepAlive = config.Duration(*keepAlive)
	}
	if *threads != 0 {
		cfg.Server.WorkersPerHost = *threads
	}
	if *grace != 0 {
		cfg.Server.GracePeriod = config.Duration(*grace)
	}
	if *admin != "" {
		cfg.Admin.Addr = *admin
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定の検証に失敗しました: %v", err)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}

	// ホスト名の解決に時間がかかりすぎないようにする
	lookupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv, err := server.FromConfig(lookupCtx, cfg, logger)
	cancel()
	if err != nil {
		log.Fatalf("サーバーの作成に失敗しました: %v", err)
	}

	// サーバーを起動
	logger.Info("webserver を起動します",
		"keep_alive", cfg.Server.KeepAlive.Std(),
		"workers_per_host", cfg.Server.WorkersPerHost,
		"grace", cfg.Server.GracePeriod.Std())
	err = srv.Start(context.Background())
	_ = closeLog()
	if err != nil {
		log.Printf("サーバーが異常終了しました: %v", err)
		if errors.Is(err, server.ErrGraceExceeded) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
