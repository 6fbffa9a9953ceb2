// Package store implements the sliding-window counters behind admission
// control. Counters are reconstructible request history, not durable state:
// losing them admits a short burst and nothing else.
package store

import (
	"context"
	"time"

	"arp/internal/ratelimit/models"
)

// BucketStore counts requests per key over a sliding window. The sliding
// window avoids the boundary burst a fixed window would admit.
type BucketStore interface {
	// Allow records one request if the key is under the limit and reports the
	// decision either way.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error
	// Count returns the current request count for a key.
	Count(ctx context.Context, key string) (int, error)
}
