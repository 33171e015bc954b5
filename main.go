package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ltc-node/config"
	"ltc-node/console"
	"ltc-node/timecode/log"
)

func main() {
	args := config.ParseCommandLineArgs()

	cfg, err := config.LoadConfig(args.ConfigFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "設定ファイルの読み込みエラー: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyCommandLineArgs(args)
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "設定エラー: %v\n", err)
		os.Exit(1)
	}

	interactive := console.IsInteractive()

	// ロガーのセットアップ
	logger, err := log.NewLogger(cfg.Log.Filename)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ログ設定エラー: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	var logConsole io.Writer
	if !interactive {
		logConsole = os.Stderr
	}
	slog.SetDefault(slog.New(log.NewHandler(logger, log.Options{Debug: cfg.Debug, Console: logConsole})))

	// ルートコンテキスト。SIGINT, SIGTERM でキャンセルする
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ログローテーション用のシグナルハンドリング (SIGHUP)
	rotateSignalCh := make(chan os.Signal, 1)
	signal.Notify(rotateSignalCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-rotateSignalCh:
				if err := logger.Rotate(); err != nil {
					_, _ = fmt.Fprintf(os.Stderr, "ログローテーションエラー: %v\n", err)
					continue
				}
				slog.Info("Log file rotated", "file", logger.Path())
			}
		}
	}()

	app, err := newApp(ctx, cfg, interactive)
	if err != nil {
		slog.Error("Startup failed", "err", err)
		_, _ = fmt.Fprintf(os.Stderr, "起動エラー: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	done := app.Start(ctx)

	if interactive {
		console.ConsoleProcess(ctx, app.ConsoleTarget())
		cancel()
	} else {
		<-ctx.Done()
	}

	<-done
	slog.Info("ltc-node stopped")
}
