// Package audit writes the append-only security event trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ruslanbekov/magic-auth/internal/domain"
	"github.com/ruslanbekov/magic-auth/internal/repository"
)

type Logger struct {
	repo   repository.SecurityEventRepository
	logger *slog.Logger
}

func NewLogger(repo repository.SecurityEventRepository, logger *slog.Logger) *Logger {
	return &Logger{
		repo:   repo,
		logger: logger.With("component", "audit"),
	}
}

// Log records a security event. Write failures are logged and swallowed:
// by the time an event is emitted the primary operation has already
// committed, and losing one audit row must not abort it.
func (l *Logger) Log(ctx context.Context, event domain.SecurityEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := l.repo.Insert(ctx, &event); err != nil {
		l.logger.ErrorContext(ctx, "security event write failed",
			"event_type", string(event.Type), "error", err)
	}
}

const defaultQueryLimit = 100

// Query returns matching events newest-first.
func (l *Logger) Query(ctx context.Context, filter repository.EventFilter, limit int) ([]*domain.SecurityEvent, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	return l.repo.Query(ctx, filter, limit)
}

type archiveRecord struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Email     string         `json:"email,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Rotate archives events older than cutoff as JSON lines on dest, then
// deletes them. If dest supports Sync (an *os.File does), the archive is
// flushed to stable storage before any deletion, so a crash between the two
// steps never loses events. Returns the archived count.
func (l *Logger) Rotate(ctx context.Context, cutoff time.Time, dest io.Writer) (int, error) {
	events, err := l.repo.SelectOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select events for rotation: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	enc := json.NewEncoder(dest)
	for _, e := range events {
		rec := archiveRecord{
			ID:        e.ID,
			EventType: string(e.Type),
			Email:     e.Email,
			UserID:    e.UserID,
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		}
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("write archive record: %w", err)
		}
	}

	if s, ok := dest.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return 0, fmt.Errorf("sync archive: %w", err)
		}
	}

	deleted, err := l.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete archived events: %w", err)
	}

	l.logger.InfoContext(ctx, "security events rotated",
		"archived", len(events), "deleted", deleted)

	return len(events), nil
}
