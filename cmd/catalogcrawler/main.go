package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	source := flag.String("run", "", "Run one source and exit instead of serving HTTP")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		return 1
	}

	if *source == "" {
		if err := app.Run(ctx); err != nil {
			zap.L().Error("server exited", zap.Error(err))
			return 1
		}
		return 0
	}

	code := 0
	sum, runErr := app.RunOnce(ctx, *source)
	if runErr != nil {
		zap.L().Error("run failed", zap.String("source", *source), zap.Error(runErr))
		code = 1
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			zap.L().Warn("summary encode failed", zap.Error(err))
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		zap.L().Warn("close failed", zap.Error(err))
	}
	return code
}
