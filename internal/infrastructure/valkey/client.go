package valkey

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to the Valkey (Redis-compatible) TTL store and verifies
// connectivity immediately. Fail-fast: auth cannot run without it.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse valkey url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	return client, nil
}

// Health adapts a redis client to the health checker's Pinger interface.
type Health struct {
	Client redis.UniversalClient
}

func (h Health) Ping(ctx context.Context) error {
	return h.Client.Ping(ctx).Err()
}
