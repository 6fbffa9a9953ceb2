// Package ratelimit admits or rejects requests before they reach any
// downstream component. Limits are per client identity and endpoint class
// with explicit configuration; a missing class configuration fails open.
package ratelimit

import (
	"context"
	"time"

	"arp/internal/ratelimit/metrics"
	"arp/internal/ratelimit/models"
	"arp/internal/ratelimit/store"
)

// Config maps endpoint classes to their limits.
type Config struct {
	Read    models.ClassConfig
	Write   models.ClassConfig
	Execute models.ClassConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Read:    models.ClassConfig{Limit: 120, Window: time.Minute},
		Write:   models.ClassConfig{Limit: 30, Window: time.Minute},
		Execute: models.ClassConfig{Limit: 10, Window: time.Minute},
	}
}

// Limiter performs sliding-window admission checks against a bucket store.
type Limiter struct {
	buckets store.BucketStore
	cfg     Config
}

// NewLimiter constructs a limiter over the given bucket store.
func NewLimiter(buckets store.BucketStore, cfg Config) *Limiter {
	return &Limiter{buckets: buckets, cfg: cfg}
}

// Check counts one request for the client identity against the class budget.
// Identity is the API key when the caller presented one, otherwise the
// client IP.
func (l *Limiter) Check(ctx context.Context, identity string, class models.EndpointClass) (*models.Result, error) {
	cc, ok := l.classConfig(class)
	if !ok || cc.Limit <= 0 {
		metrics.ChecksTotal.WithLabelValues(string(class), "allowed").Inc()
		return &models.Result{Allowed: true, Limit: cc.Limit}, nil
	}

	result, err := l.buckets.Allow(ctx, "rl:"+string(class)+":"+identity, cc.Limit, cc.Window)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues(string(class), "error").Inc()
		return nil, err
	}

	outcome := "allowed"
	if !result.Allowed {
		outcome = "limited"
	}
	metrics.ChecksTotal.WithLabelValues(string(class), outcome).Inc()
	return result, nil
}

// Reset clears one client's budget for a class; used by tests and operators.
func (l *Limiter) Reset(ctx context.Context, identity string, class models.EndpointClass) error {
	return l.buckets.Reset(ctx, "rl:"+string(class)+":"+identity)
}

func (l *Limiter) classConfig(class models.EndpointClass) (models.ClassConfig, bool) {
	switch class {
	case models.ClassRead:
		return l.cfg.Read, true
	case models.ClassWrite:
		return l.cfg.Write, true
	case models.ClassExecute:
		return l.cfg.Execute, true
	}
	return models.ClassConfig{}, false
}
