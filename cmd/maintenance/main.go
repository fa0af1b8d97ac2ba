package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruslanbekov/magic-auth/config"
	"github.com/ruslanbekov/magic-auth/internal/audit"
	"github.com/ruslanbekov/magic-auth/internal/health"
	"github.com/ruslanbekov/magic-auth/internal/infrastructure/postgres"
	"github.com/ruslanbekov/magic-auth/internal/infrastructure/valkey"
	ctxlog "github.com/ruslanbekov/magic-auth/internal/log"
	"github.com/ruslanbekov/magic-auth/internal/maintenance"
	"github.com/ruslanbekov/magic-auth/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	rdb, err := valkey.NewClient(ctx, cfg.ValkeyURL)
	if err != nil {
		stop()
		log.Fatalf("valkey: %v", err)
	}
	defer rdb.Close()

	logger.Info("stores connected")

	metrics.Register()
	checker := health.NewChecker(pool, valkey.Health{Client: rdb}, logger, prometheus.DefaultRegisterer)

	userRepo := postgres.NewUserRepository(pool)
	eventRepo := postgres.NewSecurityEventRepository(pool)
	auditLog := audit.NewLogger(eventRepo, logger)

	sweeper := maintenance.NewSweeper(userRepo, logger, cfg.TokenSweepInterval())
	go sweeper.Start(ctx)

	rotator, err := maintenance.NewRotator(auditLog, logger, cfg.AuditRotateCron, cfg.AuditRetention(), cfg.AuditArchivePath)
	if err != nil {
		stop()
		log.Fatalf("rotator: %v", err)
	}
	go rotator.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("maintenance shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
