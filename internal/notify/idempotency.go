package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard claims caller supplied idempotency keys with SET NX.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisGuard builds a guard whose claims expire after ttl.
func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: "idem:transition:", ttl: ttl}
}

// Claim returns false when key was already claimed and has not expired.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
}

// Release frees a key whose transition did not commit so the caller may retry.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.prefix+key).Err()
}
