package score_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"arp/internal/agent/models"
	"arp/internal/score"
)

func TestSeed(t *testing.T) {
	cfg := score.DefaultConfig()

	assert.Equal(t, 0.0, cfg.Seed(0))
	assert.Equal(t, 10.0, cfg.Seed(1))
	assert.Equal(t, 12.0, cfg.Seed(1.25))
	assert.Equal(t, 25.0, cfg.Seed(2.5))
	assert.Equal(t, 25.0, cfg.Seed(100), "seed is capped")
}

func TestInternal_Clamped(t *testing.T) {
	cfg := score.DefaultConfig()

	assert.Equal(t, 0.0, cfg.Internal(0, -5, 0), "never below zero")
	assert.Equal(t, 100.0, cfg.Internal(100, 5, 100), "never above the cap")
	assert.Equal(t, 52.0, cfg.Internal(0, 5, 1))
}

func TestUnified_TrustBlend(t *testing.T) {
	cfg := score.DefaultConfig()

	trust := 90.0
	assert.Equal(t, 62, cfg.Unified(50, &trust), "0.7*50 + 0.3*90")
	assert.Equal(t, 50, cfg.Unified(50, nil), "absent signal carries no weight")

	zero := 0.0
	assert.Equal(t, 35, cfg.Unified(50, &zero), "present zero is a real signal")
}

func TestTierFor_Monotone(t *testing.T) {
	cfg := score.DefaultConfig()

	// The default thresholds leave no ESTABLISHED band: every score below
	// TRUSTED is NEWCOMER, so a fresh registration is one of exactly two
	// tiers.
	assert.Equal(t, models.TierNewcomer, cfg.TierFor(0))
	assert.Equal(t, models.TierNewcomer, cfg.TierFor(10))
	assert.Equal(t, models.TierNewcomer, cfg.TierFor(24))
	assert.Equal(t, models.TierTrusted, cfg.TierFor(25))
	assert.Equal(t, models.TierTrusted, cfg.TierFor(74))
	assert.Equal(t, models.TierElite, cfg.TierFor(75))

	prev := cfg.TierFor(0)
	for unified := 1; unified <= 100; unified++ {
		tier := cfg.TierFor(unified)
		assert.False(t, tier.Before(prev), "tier regressed at score %d", unified)
		prev = tier
	}
}

func TestTierFor_LoweredThresholdOpensEstablishedBand(t *testing.T) {
	cfg := score.DefaultConfig()
	cfg.EstablishedAt = 10

	assert.Equal(t, models.TierNewcomer, cfg.TierFor(9))
	assert.Equal(t, models.TierEstablished, cfg.TierFor(10))
	assert.Equal(t, models.TierEstablished, cfg.TierFor(24))
	assert.Equal(t, models.TierTrusted, cfg.TierFor(25))
}
