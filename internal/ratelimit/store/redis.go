package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"arp/internal/ratelimit/models"
)

// Redis shares sliding-window counters across instances through a sorted set
// per key: members are request timestamps scored by nanosecond time. Checks
// are approximate under cross-instance contention, which admission control
// tolerates.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed bucket store. The client lifecycle is
// managed by the caller.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Allow(ctx context.Context, key string, limit int, span time.Duration) (*models.Result, error) {
	now := time.Now()
	cutoff := now.Add(-span).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit window read: %w", err)
	}

	count := int(countCmd.Val())
	if count >= limit {
		resetAt := now.Add(span)
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			resetAt = time.Unix(0, int64(oldest[0].Score)).Add(span)
		}
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + ":" + strconv.Itoa(count),
	})
	// Keys self-expire once idle for a full window.
	pipe.Expire(ctx, key, span)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit window write: %w", err)
	}

	resetAt := now.Add(span)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.Unix(0, int64(oldest[0].Score)).Add(span)
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count - 1,
		ResetAt:   resetAt,
	}, nil
}

func (s *Redis) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *Redis) Count(ctx context.Context, key string) (int, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit count: %w", err)
	}
	return int(n), nil
}
