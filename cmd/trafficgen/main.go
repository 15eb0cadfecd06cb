package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/slicepilot/internal/infra"
	"github.com/xela07ax/slicepilot/internal/repository/postgres"
	"github.com/xela07ax/slicepilot/internal/trafficgen"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Хранилище телеметрии
	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required (or DATABASE_URL env)")
	}
	repo, err := postgres.NewTelemetryRepo(cfg.Database.URL, cfg.Database.TelemetryTable, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("failed to init telemetry repo", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Генератор: по iperf3-циклу на каждый настроенный UE
	runner := trafficgen.NewRunner(repo, cfg.Traffic, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Graceful Shutdown: SIGINT/SIGTERM гасят все циклы через контекст
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutdown signal received, stopping traffic loops")
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("traffic generator failed", zap.Error(err))
	}
	logger.Info("traffic generator exited properly")
}
