package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	ValkeyURL   string `env:"VALKEY_URL" envDefault:"redis://localhost:6379/0" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Magic link settings
	MagicLinkExpiryMinutes int `env:"MAGIC_LINK_EXPIRY_MINUTES" envDefault:"10" validate:"min=5,max=60"`

	// Session settings
	SessionExpiryHours int `env:"SESSION_EXPIRY_HOURS" envDefault:"2160" validate:"min=1,max=2160"`

	// Per-email rate limiting
	RateLimitAttempts      int `env:"RATE_LIMIT_ATTEMPTS" envDefault:"5" validate:"min=1,max=20"`
	RateLimitWindowMinutes int `env:"RATE_LIMIT_WINDOW_MINUTES" envDefault:"15" validate:"min=5,max=60"`

	// Per-origin enumeration throttling
	EnumerationLimit         int `env:"ENUMERATION_LIMIT" envDefault:"3" validate:"min=1,max=20"`
	EnumerationWindowSeconds int `env:"ENUMERATION_WINDOW_SECONDS" envDefault:"900" validate:"min=60,max=3600"`

	// Maintenance process
	TokenSweepIntervalSeconds int    `env:"TOKEN_SWEEP_INTERVAL_SECONDS" envDefault:"3600" validate:"min=60"`
	AuditRotateCron           string `env:"AUDIT_ROTATE_CRON" envDefault:"0 3 * * *" validate:"required"`
	AuditRetentionDays        int    `env:"AUDIT_RETENTION_DAYS" envDefault:"90" validate:"min=1"`
	AuditArchivePath          string `env:"AUDIT_ARCHIVE_PATH" envDefault:"security_events.jsonl" validate:"required"`

	AppName      string `env:"APP_NAME" envDefault:"CRM"`
	AppBaseURL   string `env:"APP_BASE_URL" envDefault:"http://localhost:8080" validate:"required,url"`
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if _, err := cron.ParseStandard(cfg.AuditRotateCron); err != nil {
		return nil, fmt.Errorf("invalid AUDIT_ROTATE_CRON: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) MagicLinkTTL() time.Duration {
	return time.Duration(c.MagicLinkExpiryMinutes) * time.Minute
}

func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.SessionExpiryHours) * time.Hour
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}

func (c *Config) EnumerationWindow() time.Duration {
	return time.Duration(c.EnumerationWindowSeconds) * time.Second
}

func (c *Config) TokenSweepInterval() time.Duration {
	return time.Duration(c.TokenSweepIntervalSeconds) * time.Second
}

func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}
