// Package models defines spending policies and the execution state machine
// for policy-gated wallet transactions.
package models

import (
	"math"
	"time"

	agentmodels "arp/internal/agent/models"
	dErrors "arp/pkg/domain-errors"
)

// Policy bounds what one wallet may execute. A policy document is replaced
// atomically and never mutated while an evaluation is in flight; every
// evaluation sees exactly one version.
type Policy struct {
	WalletID string `json:"wallet_id"`
	// PerTxLimit caps a single transaction value. Zero means unlimited.
	PerTxLimit float64 `json:"per_tx_limit"`
	// PeriodLimit caps cumulative spend inside the rolling Period. Zero means
	// unlimited.
	PeriodLimit float64       `json:"period_limit"`
	Period      time.Duration `json:"period"`
	// AllowList restricts destinations when non-empty.
	AllowList []string  `json:"allow_list,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPolicy validates and canonicalizes a policy document. The version is
// assigned by the store on replacement.
func NewPolicy(walletID string, perTx, periodLimit float64, period time.Duration, allowList []string, now time.Time) (*Policy, error) {
	walletID = agentmodels.NormalizeAddress(walletID)
	if !agentmodels.ValidAddress(walletID) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "wallet id must be a 0x-prefixed 40-hex-digit address")
	}
	if perTx < 0 || math.IsNaN(perTx) || math.IsInf(perTx, 0) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "per-transaction limit must be a finite non-negative number")
	}
	if periodLimit < 0 || math.IsNaN(periodLimit) || math.IsInf(periodLimit, 0) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "period limit must be a finite non-negative number")
	}
	if periodLimit > 0 && period <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "a period limit requires a positive period")
	}

	canonical := make([]string, 0, len(allowList))
	for _, dest := range allowList {
		dest = agentmodels.NormalizeAddress(dest)
		if !agentmodels.ValidAddress(dest) {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "allow-list entry %q is not a valid address", dest)
		}
		canonical = append(canonical, dest)
	}

	return &Policy{
		WalletID:    walletID,
		PerTxLimit:  perTx,
		PeriodLimit: periodLimit,
		Period:      period,
		AllowList:   canonical,
		UpdatedAt:   now,
	}, nil
}

// Allows reports whether the destination passes the allow-list. An empty
// list allows any destination.
func (p *Policy) Allows(destination string) bool {
	if len(p.AllowList) == 0 {
		return true
	}
	for _, dest := range p.AllowList {
		if dest == destination {
			return true
		}
	}
	return false
}

// Status is the execution state machine:
// Requested -> PolicyChecked -> {Approved -> Submitted -> Confirmed | Failed}
// or Requested -> PolicyChecked -> Rejected.
type Status string

const (
	StatusRequested     Status = "REQUESTED"
	StatusPolicyChecked Status = "POLICY_CHECKED"
	StatusApproved      Status = "APPROVED"
	StatusSubmitted     Status = "SUBMITTED"
	StatusConfirmed     Status = "CONFIRMED"
	StatusRejected      Status = "REJECTED"
	// StatusFailed marks a definitive submission failure after approval.
	// Distinct from StatusSubmitted, which an execution keeps when its
	// outcome is unknown (timeout).
	StatusFailed Status = "FAILED"
)

// Reason names the violated policy check on rejection. Checks run in a fixed
// order and fail fast, so the reason is deterministic for given inputs.
type Reason string

const (
	ReasonMalformedDestination Reason = "malformed_destination"
	ReasonPerTxLimit           Reason = "per_tx_limit"
	ReasonPeriodLimit          Reason = "period_limit"
	ReasonDestinationNotListed Reason = "destination_not_allowed"
)

// Execution is one pass through the state machine.
type Execution struct {
	ID          string    `json:"id"`
	WalletID    string    `json:"wallet_id"`
	Destination string    `json:"destination"`
	Value       float64   `json:"value"`
	Status      Status    `json:"status"`
	Reason      Reason    `json:"reason,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	PolicyVer   int       `json:"policy_version"`
	CreatedAt   time.Time `json:"created_at"`
}
