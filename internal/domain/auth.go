package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUserInactive   = errors.New("user account is deactivated")
	ErrTokenInvalid   = errors.New("token is invalid or expired")
	ErrSessionExpired = errors.New("session not found or expired")
)

// RateLimitError is returned when the per-email rate limit or the per-origin
// enumeration limit is exceeded. Both cases surface the same error kind so
// callers cannot tell which limit tripped.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", int(e.RetryAfter.Seconds()))
}

// RetryAfterSeconds rounds up to whole seconds, minimum 1, for the
// Retry-After response header.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type User struct {
	ID          string
	Email       string
	IsActive    bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// MagicLinkToken is a single-use credential emailed to the user.
// Possession of the token value proves inbox access.
type MagicLinkToken struct {
	Token     string
	UserID    string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// Session lives entirely in the TTL store. The store-level TTL is the source
// of truth for expiry; ExpiresAt is an in-band second guard.
type Session struct {
	Token          string
	UserID         string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// AuthenticatedUser is returned by a successful magic-link verification.
type AuthenticatedUser struct {
	User    *User
	Session *Session
}
