package models

import (
	"math"
	"regexp"
	"strings"
	"time"

	dErrors "arp/pkg/domain-errors"
)

// Tier is a discrete reputation bracket derived from the unified score.
// Tiers are ordered; crossing a threshold is itself a ranking-affecting event.
type Tier string

const (
	TierNewcomer    Tier = "NEWCOMER"
	TierEstablished Tier = "ESTABLISHED"
	TierTrusted     Tier = "TRUSTED"
	TierElite       Tier = "ELITE"
)

// tierOrder maps tiers to their position for comparisons.
var tierOrder = map[Tier]int{
	TierNewcomer:    0,
	TierEstablished: 1,
	TierTrusted:     2,
	TierElite:       3,
}

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	_, ok := tierOrder[t]
	return ok
}

// Before reports whether t is a lower bracket than other.
func (t Tier) Before(other Tier) bool {
	return tierOrder[t] < tierOrder[other]
}

// ParseTier creates a Tier from a string, validating it.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid tier %q", s)
	}
	return t, nil
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeAddress lowercases a wallet address so lookups are canonical.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidAddress reports whether addr is a canonical (lowercase) wallet address.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// RatingMin and RatingMax bound rating scores.
const (
	RatingMin = -5
	RatingMax = 5
)

// Agent is one participant in the reputation system. The wallet address is
// the immutable primary key; exactly one Agent exists per address. Agents are
// never physically deleted, only deactivated.
type Agent struct {
	Address          string     `json:"address"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	TotalStaked      float64    `json:"total_staked"`
	UnifiedScore     int        `json:"unified_score"`
	ArpScore         float64    `json:"arp_score"`
	TrustScore       *float64   `json:"trust_score,omitempty"` // nil = external score absent
	TrustVersion     string     `json:"trust_version,omitempty"`
	Tier             Tier       `json:"tier"`
	TransactionCount int        `json:"transaction_count"`
	AverageRating    float64    `json:"average_rating"`
	RatingCount      int        `json:"rating_count"`
	Verified         bool       `json:"verified"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"created_at"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty"`
}

// NewAgent creates an Agent with domain invariant validation. Scores are
// seeded by the aggregator after construction.
func NewAgent(address, name, description string, stake float64, now time.Time) (*Agent, error) {
	address = NormalizeAddress(address)
	if !ValidAddress(address) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "address must be a 0x-prefixed 40-hex-digit wallet address")
	}
	name = strings.TrimSpace(name)
	if len(name) < 3 || len(name) > 50 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "name must be between 3 and 50 characters")
	}
	if len(description) > 500 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "description must be at most 500 characters")
	}
	if stake < 0 || math.IsNaN(stake) || math.IsInf(stake, 0) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "stake amount must be a finite non-negative number")
	}

	return &Agent{
		Address:     address,
		Name:        name,
		Description: description,
		TotalStaked: stake,
		Tier:        TierNewcomer,
		Active:      true,
		CreatedAt:   now,
	}, nil
}

// Deactivate marks the agent inactive. Deactivated agents leave the ranking
// but their record survives.
func (a *Agent) Deactivate(now time.Time) error {
	if !a.Active {
		return dErrors.New(dErrors.CodeInvariantViolation, "agent is already inactive")
	}
	a.Active = false
	a.DeactivatedAt = &now
	return nil
}

// HasTrustScore reports whether an external trust score has been supplied.
// Absence reduces the external weight to zero; it is never treated as a
// score of zero.
func (a *Agent) HasTrustScore() bool {
	return a.TrustScore != nil
}
