package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter hands out the next integer for a scope. seed is consulted when the
// scope has no state yet and returns the highest value already in use.
type Counter interface {
	Next(ctx context.Context, scope string, seed func(ctx context.Context) (int, error)) (int, error)
}

// RedisCounter keeps one INCR key per scope. Keys expire after ttl so daily
// scopes do not accumulate; ttl 0 keeps them forever.
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCounter(client *redis.Client, ttl time.Duration) *RedisCounter {
	return &RedisCounter{client: client, prefix: "hms:seq:", ttl: ttl}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCounter) Next(ctx context.Context, scope string, seed func(ctx context.Context) (int, error)) (int, error) {
	key := c.prefix + scope

	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis exists %s: %w", key, err)
	}
	if exists == 0 {
		start, err := seed(ctx)
		if err != nil {
			return 0, fmt.Errorf("seed %s: %w", scope, err)
		}
		// Losing the SETNX race is fine: the winner seeded the same value.
		if err := c.client.SetNX(ctx, key, start, c.ttl).Err(); err != nil {
			return 0, fmt.Errorf("redis setnx %s: %w", key, err)
		}
	}

	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return int(n), nil
}
