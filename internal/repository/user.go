package repository

import (
	"context"
	"time"

	"github.com/ruslanbekov/magic-auth/internal/domain"
)

// UserRepository is the durable store for users and magic-link tokens.
// These tables are readable before any authenticated identity exists.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, email string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error

	StoreMagicLinkToken(ctx context.Context, token *domain.MagicLinkToken) error
	FindMagicLinkToken(ctx context.Context, token string) (*domain.MagicLinkToken, error)
	// MarkTokenUsed flips used=false to used=true exactly once. It returns
	// domain.ErrTokenInvalid if the token is absent or already claimed, so
	// two racing verifications cannot both succeed.
	MarkTokenUsed(ctx context.Context, token string, at time.Time) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}
