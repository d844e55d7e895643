package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/welnecker/roleplay/backend/internal/app"
	"github.com/welnecker/roleplay/backend/internal/cli"
	"github.com/welnecker/roleplay/backend/internal/config"
	"github.com/welnecker/roleplay/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	open := func(context.Context) (store.Repository, func() error, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		// 命令行只输出警告以上的日志
		logger, _, err := config.NewLogger("warn")
		if err != nil {
			return nil, nil, err
		}
		st, closeStore, err := app.OpenStore(cfg.Store, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error {
			_ = logger.Sync()
			return closeStore()
		}, nil
	}

	if err := cli.NewRootCmd(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
