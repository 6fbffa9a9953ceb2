// Package score implements the reputation aggregator: it folds stake,
// ratings, settlement activity, and the external trust signal into one
// unified score per agent, and derives the tier bracket from it.
package score

import (
	"math"

	"arp/internal/agent/models"
)

// Config carries every scoring parameter. All weights and thresholds are
// explicit configuration; there are no hidden constants in the formulas.
type Config struct {
	// StakeFactor scales the registration stake into the seed score.
	StakeFactor float64
	// SeedCap bounds the seed so stake alone cannot buy a high score.
	SeedCap float64
	// RatingWeight scales the average received rating.
	RatingWeight float64
	// TxWeight scales settled transaction volume.
	TxWeight float64
	// InternalCap bounds the internal sub-score.
	InternalCap float64
	// InternalWeight and ExternalWeight blend the internal sub-score with the
	// external trust signal when one is present. They should sum to 1.
	InternalWeight float64
	ExternalWeight float64
	// Tier thresholds on the unified score. Monotone: a higher score never
	// maps to a lower tier.
	EstablishedAt int
	TrustedAt     int
	EliteAt       int
	// SlashFraction is the share of stake removed by a slash; SlashRating is
	// the rating appended alongside it.
	SlashFraction float64
	SlashRating   int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		StakeFactor:    10,
		SeedCap:        25,
		RatingWeight:   10,
		TxWeight:       2,
		InternalCap:    100,
		InternalWeight: 0.7,
		ExternalWeight: 0.3,
		// With the default seed cap, registration lands exactly at NEWCOMER
		// or TRUSTED; the ESTABLISHED band opens only when operators lower
		// the threshold below TrustedAt.
		EstablishedAt:  25,
		TrustedAt:      25,
		EliteAt:        75,
		SlashFraction:  0.5,
		SlashRating:    models.RatingMin,
	}
}

// Seed derives the registration seed from the staked amount:
// min(floor(stake * StakeFactor), SeedCap).
func (c Config) Seed(stake float64) float64 {
	seed := math.Floor(stake * c.StakeFactor)
	return math.Min(seed, c.SeedCap)
}

// Internal computes the internal sub-score from current agent state, clamped
// to [0, InternalCap]. The seed is re-derived from the current stake so stake
// changes (deposits, slashes) flow through on the next recomputation.
func (c Config) Internal(stake, avgRating float64, txCount int) float64 {
	raw := c.Seed(stake) + avgRating*c.RatingWeight + float64(txCount)*c.TxWeight
	return math.Min(math.Max(raw, 0), c.InternalCap)
}

// Unified blends the internal sub-score with the external trust signal. A nil
// trust score means the signal is absent: its weight drops to zero and the
// internal sub-score carries full weight. Absence is never a score of zero.
func (c Config) Unified(internal float64, trust *float64) int {
	blended := internal
	if trust != nil {
		blended = c.InternalWeight*internal + c.ExternalWeight*(*trust)
	}
	unified := int(math.Round(blended))
	if unified < 0 {
		unified = 0
	}
	return unified
}

// TierFor maps a unified score to its bracket through the monotone step
// function.
func (c Config) TierFor(unified int) models.Tier {
	switch {
	case unified >= c.EliteAt:
		return models.TierElite
	case unified >= c.TrustedAt:
		return models.TierTrusted
	case unified >= c.EstablishedAt:
		return models.TierEstablished
	default:
		return models.TierNewcomer
	}
}

// Recompute refreshes the agent's derived fields from its primary state.
func (c Config) Recompute(a *models.Agent) {
	a.ArpScore = c.Internal(a.TotalStaked, a.AverageRating, a.TransactionCount)
	a.UnifiedScore = c.Unified(a.ArpScore, a.TrustScore)
	a.Tier = c.TierFor(a.UnifiedScore)
}
