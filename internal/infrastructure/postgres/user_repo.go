package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ruslanbekov/magic-auth/internal/domain"
)

// UserRepository stores users and magic-link tokens. Neither table carries
// tenant isolation: both are read before any identity is established.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, email, is_active, created_at, last_login_at`

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = lower($1)`,
		strings.TrimSpace(email),
	)
	return scanUser(row)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *UserRepository) Create(ctx context.Context, email string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, email) VALUES ($1, lower($2)) RETURNING `+userColumns,
		uuid.NewString(), strings.TrimSpace(email),
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Delete removes the user; magic_link_tokens cascade via FK.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) StoreMagicLinkToken(ctx context.Context, t *domain.MagicLinkToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO magic_link_tokens (token, user_id, email, created_at, expires_at, used)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.Token, t.UserID, t.Email, t.CreatedAt, t.ExpiresAt, t.Used,
	)
	if err != nil {
		return fmt.Errorf("store magic link token: %w", err)
	}
	return nil
}

func (r *UserRepository) FindMagicLinkToken(ctx context.Context, token string) (*domain.MagicLinkToken, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT token, user_id, email, created_at, expires_at, used, used_at
		 FROM magic_link_tokens WHERE token = $1`, token)

	var t domain.MagicLinkToken
	err := row.Scan(&t.Token, &t.UserID, &t.Email, &t.CreatedAt, &t.ExpiresAt, &t.Used, &t.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("scan magic link token: %w", err)
	}
	return &t, nil
}

// MarkTokenUsed is the single atomic claim point: the conditional update
// means exactly one of two racing verifications observes used=false.
func (r *UserRepository) MarkTokenUsed(ctx context.Context, token string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE magic_link_tokens SET used = true, used_at = $1
		 WHERE token = $2 AND used = false`,
		at, token,
	)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenInvalid
	}
	return nil
}

func (r *UserRepository) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM magic_link_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.IsActive, &u.CreatedAt, &u.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
