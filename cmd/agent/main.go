package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/slicepilot/internal/audit"
	"github.com/xela07ax/slicepilot/internal/connectors"
	"github.com/xela07ax/slicepilot/internal/console"
	"github.com/xela07ax/slicepilot/internal/console/handler"
	"github.com/xela07ax/slicepilot/internal/console/service"
	"github.com/xela07ax/slicepilot/internal/engine"
	"github.com/xela07ax/slicepilot/internal/guard"
	"github.com/xela07ax/slicepilot/internal/infra"
	"github.com/xela07ax/slicepilot/internal/infra/auth"
	"github.com/xela07ax/slicepilot/internal/monitor"
	"github.com/xela07ax/slicepilot/internal/reconfigure"
	"github.com/xela07ax/slicepilot/internal/repository/postgres"

	"github.com/redis/go-redis/v9"
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

	// 2. Инфраструктура и ресурсы
	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required (or DATABASE_URL env)")
	}
	telemetryRepo, err := postgres.NewTelemetryRepo(cfg.Database.URL, cfg.Database.TelemetryTable, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("failed to init telemetry repo", zap.Error(err))
	}
	defer telemetryRepo.Close()

	auditRepo, err := postgres.NewAuditRepo(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to init audit repo", zap.Error(err))
	}
	defer auditRepo.Close()

	// Проверяем соединение с таймаутом
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := telemetryRepo.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// Redis опционален: без него нет распределенной лизы и halt-канала,
	// но один инстанс агента полностью работоспособен
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Контекст жизненного цикла фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Аудит-трейл: события контура пачками летят в Postgres
	trail := audit.NewTrail(auditRepo, logger, cfg.Engine.AuditBufferSize, 50, cfg.Engine.AuditFlushInterval)
	trail.Start()
	defer trail.Stop()

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	// Гейдж заполненности аудит-буфера
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.AuditBufferFill.Set(float64(trail.Pending()))
			}
		}
	}()

	// 5. Оракул: мок для офлайн-режима, иначе chat-completions endpoint.
	// Поверх — Retries, Circuit Breaker и Rate Limiter.
	var oracle connectors.Oracle
	if cfg.Oracle.Mock {
		logger.Warn("oracle is mocked, decisions are simulated locally")
		oracle = &connectors.MockOracle{}
	} else {
		oracle = connectors.NewNIMAdapter(cfg.Oracle)
	}
	safeOracle := engine.NewReliableOracle(oracle, cfg.Engine, cfg.Oracle.Timeout, metrics)

	// 6. Guardrails: словарь допустимых ответов оракула
	ueRule, err := guard.PatternRule("ue-token", `UE[0-9]+$`)
	if err != nil {
		logger.Fatal("invalid guardrail pattern", zap.Error(err))
	}
	validator := guard.NewValidator(guard.ParseMode(cfg.Guard.Mode), logger)
	validator.AddRule(ueRule)
	validator.AddRule(guard.EnumRule("known-ue", "", cfg.Reconfigure.Entities...))

	// 7. Сборка контура: детектор -> актор -> оркестратор
	clock := monitor.RealClock()
	detector := monitor.NewDetector(telemetryRepo, cfg.Monitor, logger)
	runner := reconfigure.NewScriptRunner(cfg.Reconfigure.ScriptPath, cfg.Reconfigure.ScriptTimeout, logger)
	consenter := reconfigure.NewStdinConsenter(os.Stdin, os.Stdout)
	actor := reconfigure.NewActor(
		safeOracle,
		telemetryRepo,
		runner,
		validator,
		consenter,
		trail,
		clock,
		cfg.Reconfigure,
		cfg.Monitor.Window,
		logger,
	)

	lease := engine.NewReconfigLease(rdb, cfg.Engine.LeaseTTL, logger)
	loop := engine.NewLoop(detector, actor, clock, lease, metrics, trail, rdb, cfg.Monitor.PollInterval, logger)

	// Слушатель операторского halt-сигнала из Redis
	go engine.WatchHaltSignal(appCtx, rdb, logger, loop.RequestHalt)

	// 8. Операторский API
	var tokenValidator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("failed to parse auth public key", zap.Error(err))
		}
		tokenValidator = auth.NewBaseValidator(pubKey)
	} else {
		logger.Warn("operator API runs without authentication")
	}

	auditService := service.NewAuditService(auditRepo)
	apiServer := console.NewServer(
		cfg,
		logger,
		tokenValidator,
		handler.NewStatusHandler(loop, detector),
		handler.NewAuditHandler(auditService),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("operator API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("operator API failed", zap.Error(err))
		}
	}()

	// 9. Контур управления в фоне
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(appCtx); err != nil {
			logger.Error("control loop exited with error", zap.Error(err))
		}
	}()

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case <-loopDone:
		// HALTED: контур встал терминально, агенту больше нечего делать
		logger.Info("control loop finished, shutting down")
	}

	cancel()
	<-loopDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("operator API shutdown failed", zap.Error(err))
	}
	logger.Info("agent exited properly")
}
