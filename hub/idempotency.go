package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client key of a create request.
const IdempotencyHeader = "Idempotency-Key"

// Deduper remembers idempotency keys per user.
type Deduper interface {
	// Add records the key and reports whether it was new.
	Add(ctx context.Context, user, key string) (bool, error)
	Remove(ctx context.Context, user, key string) error
}

// RedisDeduper keeps keys in redis so every hub instance sees them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a new RedisDeduper instance.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(user, key string) string {
	return fmt.Sprintf("idem:%s:%s", user, key)
}

// Add reserves key for user and reports false when it was already taken.
func (r *RedisDeduper) Add(ctx context.Context, user, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(user, key), 1, r.ttl).Result()
}

// Remove forgets a key so a failed request can be retried with it.
func (r *RedisDeduper) Remove(ctx context.Context, user, key string) error {
	return r.client.Del(ctx, r.key(user, key)).Err()
}
