package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/thereayou/voxus/internal/config"
	"github.com/thereayou/voxus/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(logger.Config{Development: cfg.Development})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	srv, err := NewServer(cfg, zl)
	if err != nil {
		zl.Fatal("server init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		zl.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
