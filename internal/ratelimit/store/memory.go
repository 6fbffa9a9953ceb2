package store

import (
	"context"
	"math"
	"sync"
	"time"

	"arp/internal/ratelimit/models"
)

// InMemory is the process-local bucket store for single-instance deployments
// and tests. Multi-instance deployments share counters through Redis instead.
type InMemory struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	stamps []time.Time
	span   time.Duration
}

// NewInMemory creates an empty in-memory bucket store.
func NewInMemory() *InMemory {
	return &InMemory{windows: make(map[string]*window)}
}

func (s *InMemory) Allow(_ context.Context, key string, limit int, span time.Duration) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	w := s.windows[key]
	if w == nil {
		w = &window{span: span}
		s.windows[key] = w
	}
	w.expire(now)

	if len(w.stamps) >= limit {
		oldest := w.stamps[0]
		resetAt := oldest.Add(span)
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	w.stamps = append(w.stamps, now)
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.stamps),
		ResetAt:   w.stamps[0].Add(span),
	}, nil
}

func (s *InMemory) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

func (s *InMemory) Count(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[key]
	if w == nil {
		return 0, nil
	}
	w.expire(time.Now())
	return len(w.stamps), nil
}

// expire drops timestamps that have left the window.
func (w *window) expire(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for ; i < len(w.stamps); i++ {
		if w.stamps[i].After(cutoff) {
			break
		}
	}
	w.stamps = w.stamps[i:]
}

func retryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
