package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/pilab-dev/bridge-hds/cache"
	"github.com/redis/go-redis/v9"
)

// Guard implements cache.FinalizeGuard with SET NX, so claims hold across
// every worker sharing the Redis instance.
type Guard struct {
	client *redis.Client
	prefix string // Optional prefix for keys
}

var _ cache.FinalizeGuard = (*Guard)(nil)

// NewGuard creates a new [Guard] instance
func NewGuard(client *redis.Client, prefix string) *Guard {
	return &Guard{
		client: client,
		prefix: prefix,
	}
}

// NewGuardFromURL parses a redis:// URL and creates a Guard on it.
func NewGuardFromURL(redisURL, prefix string) (*Guard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewGuard(redis.NewClient(opts), prefix), nil
}

// redisKey returns the Redis key for a given claim
func (g *Guard) redisKey(key string) string {
	return fmt.Sprintf("%s:finalize:%s", g.prefix, key)
}

// Claim implements cache.FinalizeGuard.
func (g *Guard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.redisKey(key), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim key in Redis: %w", err)
	}
	return ok, nil
}

// Close closes the Redis client.
func (g *Guard) Close() error {
	return g.client.Close()
}
