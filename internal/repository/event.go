package repository

import (
	"context"
	"time"

	"github.com/ruslanbekov/magic-auth/internal/domain"
)

// EventFilter narrows security event queries. Zero values match everything.
type EventFilter struct {
	Email  string
	UserID string
	Type   domain.EventType
}

// SecurityEventRepository is the append-only audit trail. Rows are inserted
// by Insert and removed only by DeleteOlderThan after archival.
type SecurityEventRepository interface {
	Insert(ctx context.Context, event *domain.SecurityEvent) error
	Query(ctx context.Context, filter EventFilter, limit int) ([]*domain.SecurityEvent, error)
	SelectOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.SecurityEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
