package dedupe

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces dedupe keys.
const DefaultRedisPrefix = "poolwatch:dedupe:"

// Redis is a Deduplicator shared by every watcher pointed at the same Redis.
// Keys are written with SETNX and never expire.
type Redis struct {
	client *goredis.Client
	prefix string
}

// NewRedis creates a Redis-backed deduplicator.
func NewRedis(client *goredis.Client, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}, nil
}

// Observe implements Deduplicator.
func (r *Redis) Observe(ctx context.Context, id string) (bool, error) {
	// ok=true -> key was created, id is new
	ok, err := r.client.SetNX(ctx, r.prefix+id, 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", id, err)
	}
	return ok, nil
}
