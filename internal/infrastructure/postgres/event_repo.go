package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ruslanbekov/magic-auth/internal/domain"
	"github.com/ruslanbekov/magic-auth/internal/repository"
)

// SecurityEventRepository persists the append-only audit trail.
// security_events has no tenant isolation: administrative oversight needs
// visibility across all users.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(pool *pgxpool.Pool) *SecurityEventRepository {
	return &SecurityEventRepository{pool: pool}
}

const eventColumns = `id, event_type, email, user_id, ip_address, user_agent, details, created_at`

func (r *SecurityEventRepository) Insert(ctx context.Context, e *domain.SecurityEvent) error {
	var details any
	if len(e.Details) > 0 {
		details = e.Details
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO security_events (event_type, email, user_id, ip_address, user_agent, details, created_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, '')::inet, NULLIF($5, ''), $6, $7)`,
		string(e.Type), e.Email, e.UserID, e.IPAddress, e.UserAgent, details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (r *SecurityEventRepository) Query(ctx context.Context, filter repository.EventFilter, limit int) ([]*domain.SecurityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM security_events WHERE 1=1`
	args := []any{}

	if filter.Email != "" {
		args = append(args, filter.Email)
		query += ` AND email = $` + strconv.Itoa(len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += ` AND user_id = $` + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += ` AND event_type = $` + strconv.Itoa(len(args))
	}

	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SelectOlderThan returns rows oldest-first so the archive stays in
// chronological order.
func (r *SecurityEventRepository) SelectOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM security_events
		 WHERE created_at < $1 ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select old security events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old security events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEvents(rows pgx.Rows) ([]*domain.SecurityEvent, error) {
	var events []*domain.SecurityEvent
	for rows.Next() {
		var (
			e         domain.SecurityEvent
			email     *string
			userID    *string
			ipAddress *string
			userAgent *string
		)
		if err := rows.Scan(&e.ID, &e.Type, &email, &userID, &ipAddress, &userAgent, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		if email != nil {
			e.Email = *email
		}
		if userID != nil {
			e.UserID = *userID
		}
		if ipAddress != nil {
			e.IPAddress = *ipAddress
		}
		if userAgent != nil {
			e.UserAgent = *userAgent
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return events, nil
}
