// Package session manages renewable session tokens in the TTL store.
// The store TTL matches the session lifetime; every successful validation
// re-extends both the TTL and the embedded expiry (sliding window).
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruslanbekov/magic-auth/internal/domain"
)

const keyPrefix = "session:"

type record struct {
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	rdb      redis.UniversalClient
	lifetime time.Duration
}

func NewManager(rdb redis.UniversalClient, lifetime time.Duration) *Manager {
	return &Manager{rdb: rdb, lifetime: lifetime}
}

func key(token string) string {
	return keyPrefix + token
}

// NewToken generates an opaque URL-safe token with 32 bytes of randomness.
// The magic-link flow uses the same generator.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Create issues a new session for the user.
func (m *Manager) Create(ctx context.Context, userID string) (*domain.Session, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &domain.Session{
		Token:          token,
		UserID:         userID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.lifetime),
		LastActivityAt: now,
	}

	if err := m.write(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the token and unconditionally extends the session on
// success. An absent key, or a record whose embedded expiry has passed
// despite the store TTL, both yield ErrSessionExpired.
func (m *Manager) Validate(ctx context.Context, token string) (*domain.Session, error) {
	data, err := m.rdb.Get(ctx, key(token)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrSessionExpired
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	now := time.Now().UTC()

	// Second guard behind the store TTL.
	if now.After(rec.ExpiresAt) {
		_ = m.rdb.Del(ctx, key(token)).Err()
		return nil, domain.ErrSessionExpired
	}

	s := &domain.Session{
		Token:          token,
		UserID:         rec.UserID,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      now.Add(m.lifetime),
		LastActivityAt: now,
	}

	if err := m.write(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Revoke deletes the session. A missing token is not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if err := m.rdb.Del(ctx, key(token)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (m *Manager) write(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(record{
		UserID:         s.UserID,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		LastActivityAt: s.LastActivityAt,
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := m.rdb.Set(ctx, key(s.Token), data, m.lifetime).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}
