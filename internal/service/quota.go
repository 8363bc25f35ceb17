package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQuotaExceeded is returned when an owner has no remaining quota.
var ErrQuotaExceeded = errors.New("quota exceeded")

// QuotaChecker reserves one unit of an owner's generation quota. The quota
// source is an external concern; this interface keeps the pipeline
// decoupled from it.
type QuotaChecker interface {
	Reserve(ctx context.Context, ownerID string) error
	Release(ctx context.Context, ownerID string) error
}

// RedisQuota counts submissions per owner per calendar month.
type RedisQuota struct {
	redis *redis.Client
	limit int
}

func NewRedisQuota(redisClient *redis.Client, monthlyLimit int) *RedisQuota {
	return &RedisQuota{redis: redisClient, limit: monthlyLimit}
}

func (q *RedisQuota) key(ownerID string) string {
	return fmt.Sprintf("quota:%s:%s", ownerID, time.Now().UTC().Format("2006-01"))
}

// Reserve takes one unit, failing with ErrQuotaExceeded when the monthly
// limit is reached. The counter expires on its own well after month end.
func (q *RedisQuota) Reserve(ctx context.Context, ownerID string) error {
	key := q.key(ownerID)

	count, err := q.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}
	if count == 1 {
		q.redis.Expire(ctx, key, 35*24*time.Hour)
	}

	if count > int64(q.limit) {
		q.redis.Decr(ctx, key)
		return ErrQuotaExceeded
	}
	return nil
}

// Release returns a unit reserved for a job that was never created.
func (q *RedisQuota) Release(ctx context.Context, ownerID string) error {
	return q.redis.Decr(ctx, q.key(ownerID)).Err()
}
