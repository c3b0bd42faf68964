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

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/config"
	"github.com/xiaot623/gogo/locshare/internal/hub"
	internalhttp "github.com/xiaot623/gogo/locshare/internal/http"
	"github.com/xiaot623/gogo/locshare/internal/limiter"
	"github.com/xiaot623/gogo/locshare/internal/logger"
	"github.com/xiaot623/gogo/locshare/internal/metrics"
	"github.com/xiaot623/gogo/locshare/internal/policy"
	"github.com/xiaot623/gogo/locshare/internal/repository"
	"github.com/xiaot623/gogo/locshare/internal/scheduler"
	"github.com/xiaot623/gogo/locshare/internal/service"
	"github.com/xiaot623/gogo/locshare/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lg, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("starting locshare",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("internal_port", cfg.InternalPort),
		zap.String("database", cfg.DatabaseURL),
		zap.String("counter_backend", cfg.CounterBackend),
		zap.String("scheduler_backend", cfg.SchedulerBackend))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	counter, closeCounter, err := newCounter(cfg)
	if err != nil {
		lg.Fatal("failed to initialize connection counter", zap.Error(err))
	}
	defer closeCounter()

	sched, err := newScheduler(cfg, lg)
	if err != nil {
		lg.Fatal("failed to initialize scheduler", zap.Error(err))
	}
	defer sched.Close()

	admission, err := policy.LoadEngine(ctx, cfg.AdmissionPolicyFile)
	if err != nil {
		lg.Fatal("failed to initialize admission policy", zap.Error(err))
	}

	m := metrics.New()

	// Initialize hub
	connectionHub := hub.NewHub(lg, m)
	go connectionHub.Run(ctx)

	// Initialize service
	svc := service.New(db, sched, cfg, lg.Named("service"))
	svc.SetPresenceChecker(connectionHub)
	svc.SetMetrics(m)

	wsServer := ws.NewServer(cfg, connectionHub, svc, admission, counter, m, lg)
	svc.SetNotifier(wsServer)

	publicServer := internalhttp.NewServer(cfg, svc, counter, wsServer, lg)
	wsServer.Register(publicServer.Echo())

	internalServer := internalhttp.NewInternalServer(connectionHub, svc, m, lg)

	// Background workers
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("scheduler stopped", zap.Error(err))
		}
	}()
	go svc.RunCleanupSweeper(ctx)

	// Start public server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := publicServer.Start(addr); err != nil && err != http.ErrServerClosed {
			lg.Fatal("failed to start public server", zap.Error(err))
		}
	}()

	// Start internal server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		if err := internalServer.Start(addr); err != nil && err != http.ErrServerClosed {
			lg.Fatal("failed to start internal server", zap.Error(err))
		}
	}()

	lg.Info("servers started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := publicServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("public server did not shut down gracefully", zap.Error(err))
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("internal server did not shut down gracefully", zap.Error(err))
	}
	stop()

	lg.Info("locshare stopped")
}

func newCounter(cfg *config.Config) (limiter.Counter, func(), error) {
	if cfg.CounterBackend == config.BackendRedis {
		rc, err := limiter.NewRedisCounter(cfg.RedisURL, "locshare:")
		if err != nil {
			return nil, nil, err
		}
		return rc, func() { _ = rc.Close() }, nil
	}
	return limiter.NewMemoryCounter(), func() {}, nil
}

func newScheduler(cfg *config.Config, lg *zap.Logger) (scheduler.Scheduler, error) {
	if cfg.SchedulerBackend == config.BackendAsynq {
		return scheduler.NewAsynq(cfg.RedisURL, 10, lg.Named("asynq"))
	}
	return scheduler.NewLocal(lg.Named("scheduler")), nil
}
