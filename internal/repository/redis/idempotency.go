package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/brewgate/internal/repository"
)

var _ repository.IdempotencyStore = (*redisIdempotency)(nil)

const (
	lockKeyPrefix = "brewgate:request:"
	// lockTTL outlives the longest permitted tool timeout.
	lockTTL = 2 * time.Hour
	// doneTTL is how long a finished request keeps absorbing redeliveries.
	doneTTL = 10 * time.Minute
)

type redisIdempotency struct {
	client *goredis.Client
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store using SET NX.
func NewRedisIdempotencyStore(client *goredis.Client) repository.IdempotencyStore {
	return &redisIdempotency{client: client}
}

// AcquireLock uses Redis SETNX to atomically acquire a processing lock.
func (r *redisIdempotency) AcquireLock(ctx context.Context, requestID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+requestID, time.Now().Unix(), lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock shortens the key's TTL so it expires once redeliveries stop.
func (r *redisIdempotency) ReleaseLock(ctx context.Context, requestID string) error {
	if err := r.client.Expire(ctx, lockKeyPrefix+requestID, doneTTL).Err(); err != nil {
		return fmt.Errorf("redis: release lock: %w", err)
	}
	return nil
}

// AbandonLock deletes the key.
func (r *redisIdempotency) AbandonLock(ctx context.Context, requestID string) error {
	if err := r.client.Del(ctx, lockKeyPrefix+requestID).Err(); err != nil {
		return fmt.Errorf("redis: abandon lock: %w", err)
	}
	return nil
}
