// Package maintenance holds the background jobs of the auth service: the
// expired-token sweeper and the audit-log rotator.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruslanbekov/magic-auth/internal/metrics"
)

// tokenSweepRepo is the slice of the user repository the sweeper needs.
type tokenSweepRepo interface {
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically deletes magic-link tokens whose expiry has passed.
// Expired tokens are already unusable; this only keeps the table small.
type Sweeper struct {
	repo     tokenSweepRepo
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(repo tokenSweepRepo, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		logger:   logger.With("component", "sweeper"),
		interval: interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("token sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("token sweeper shut down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.repo.DeleteExpiredTokens(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("sweep expired tokens", "error", err)
		return
	}
	if deleted > 0 {
		metrics.TokensSweptTotal.Add(float64(deleted))
		s.logger.Info("swept expired magic link tokens", "count", deleted)
	}
}
