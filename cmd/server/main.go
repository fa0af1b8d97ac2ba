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

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruslanbekov/magic-auth/config"
	"github.com/ruslanbekov/magic-auth/internal/audit"
	"github.com/ruslanbekov/magic-auth/internal/email"
	"github.com/ruslanbekov/magic-auth/internal/health"
	"github.com/ruslanbekov/magic-auth/internal/infrastructure/postgres"
	"github.com/ruslanbekov/magic-auth/internal/infrastructure/valkey"
	ctxlog "github.com/ruslanbekov/magic-auth/internal/log"
	"github.com/ruslanbekov/magic-auth/internal/metrics"
	"github.com/ruslanbekov/magic-auth/internal/ratelimit"
	"github.com/ruslanbekov/magic-auth/internal/session"
	httptransport "github.com/ruslanbekov/magic-auth/internal/transport/http"
	"github.com/ruslanbekov/magic-auth/internal/transport/http/handler"
	"github.com/ruslanbekov/magic-auth/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

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

	userRepo := postgres.NewUserRepository(pool)
	eventRepo := postgres.NewSecurityEventRepository(pool)

	auditLog := audit.NewLogger(eventRepo, logger)
	sessions := session.NewManager(rdb, cfg.SessionLifetime())
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimitAttempts, cfg.RateLimitWindow())
	guard := ratelimit.NewEnumerationGuard(rdb, cfg.EnumerationLimit, cfg.EnumerationWindow())
	sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, cfg.AppName, logger)

	authUsecase := usecase.NewAuthUsecase(
		userRepo, sessions, limiter, guard, auditLog, sender,
		cfg.MagicLinkTTL(), cfg.AppBaseURL,
	)
	authHandler := handler.NewAuthHandler(authUsecase, cfg.Env != "local", logger)

	metrics.Register()
	checker := health.NewChecker(pool, valkey.Health{Client: rdb}, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, authHandler, authUsecase),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
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
