// Package ratelimit implements sliding-window attempt counters on the TTL
// store. Each attempt resets the key's TTL to the full window, so hammering
// a blocked identifier extends the lockout rather than shortening it.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruslanbekov/magic-auth/internal/domain"
)

const (
	rateLimitKeyPrefix   = "ratelimit:magic_link:"
	enumerationKeyPrefix = "enumeration:"
)

// Limiter throttles magic-link requests per normalized email.
type Limiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
}

func NewLimiter(rdb redis.UniversalClient, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

func (l *Limiter) key(email string) string {
	return rateLimitKeyPrefix + strings.ToLower(email)
}

// Check counts the attempt and resets the window TTL unconditionally.
// Over the limit it returns a RateLimitError carrying the key's remaining
// TTL (minimum one second) as retry-after.
func (l *Limiter) Check(ctx context.Context, email string) error {
	key := l.key(email)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("incr rate limit counter: %w", err)
	}

	if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
		return fmt.Errorf("reset rate limit ttl: %w", err)
	}

	if count > int64(l.limit) {
		return &domain.RateLimitError{RetryAfter: l.retryAfter(ctx, key)}
	}
	return nil
}

// Reset clears the counter after a successful login.
func (l *Limiter) Reset(ctx context.Context, email string) error {
	if err := l.rdb.Del(ctx, l.key(email)).Err(); err != nil {
		return fmt.Errorf("reset rate limit counter: %w", err)
	}
	return nil
}

// Remaining reports attempts left before the limit trips, without counting.
// A missing key means the full budget is available.
func (l *Limiter) Remaining(ctx context.Context, email string) (int, error) {
	count, err := l.rdb.Get(ctx, l.key(email)).Int64()
	if err != nil {
		if err == redis.Nil {
			return l.limit, nil
		}
		return 0, fmt.Errorf("get rate limit counter: %w", err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Limiter) retryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < time.Second {
		return time.Second
	}
	return ttl
}

// EnumerationGuard throttles account probing per client origin. Unlike the
// Limiter it counts only failed lookups, and its window is fixed from the
// first failure rather than sliding.
type EnumerationGuard struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
}

func NewEnumerationGuard(rdb redis.UniversalClient, limit int, window time.Duration) *EnumerationGuard {
	return &EnumerationGuard{rdb: rdb, limit: limit, window: window}
}

func (g *EnumerationGuard) key(origin string) string {
	return enumerationKeyPrefix + origin
}

// Blocked fails with a RateLimitError when the origin has already exhausted
// its budget. It does not count the attempt: it runs before the user lookup,
// and counting here would turn the guard itself into an oracle.
func (g *EnumerationGuard) Blocked(ctx context.Context, origin string) error {
	key := g.key(origin)

	count, err := g.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("get enumeration counter: %w", err)
	}

	if count >= int64(g.limit) {
		ttl, err := g.rdb.TTL(ctx, key).Result()
		if err != nil || ttl < time.Second {
			ttl = time.Second
		}
		return &domain.RateLimitError{RetryAfter: ttl}
	}
	return nil
}

// Record counts a failed lookup from the origin. The first failure starts
// the window.
func (g *EnumerationGuard) Record(ctx context.Context, origin string) error {
	key := g.key(origin)

	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("incr enumeration counter: %w", err)
	}

	if count == 1 {
		if err := g.rdb.Expire(ctx, key, g.window).Err(); err != nil {
			return fmt.Errorf("set enumeration ttl: %w", err)
		}
	}
	return nil
}

// Reset forgives prior enumeration noise from the origin after a successful
// login.
func (g *EnumerationGuard) Reset(ctx context.Context, origin string) error {
	if err := g.rdb.Del(ctx, g.key(origin)).Err(); err != nil {
		return fmt.Errorf("reset enumeration counter: %w", err)
	}
	return nil
}
