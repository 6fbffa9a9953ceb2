// Package store holds the policy documents and the rolling spend ledger the
// executor evaluates against.
package store

import (
	"context"
	"time"

	"arp/internal/policy/models"
)

// PolicyStore keeps one versioned policy document per wallet. Replace is
// atomic: an evaluation reads either the old or the new document in full.
type PolicyStore interface {
	// Get returns the current policy for a wallet, or sentinel.ErrNotFound.
	Get(ctx context.Context, walletID string) (*models.Policy, error)
	// Replace swaps in a new document and assigns the next version number.
	// The stored policy (with its version) is returned.
	Replace(ctx context.Context, policy *models.Policy) (*models.Policy, error)
}

// SpendLedger tracks approved spend per wallet over a sliding window.
// Reservations are made at approval time so concurrent executions cannot
// jointly exceed the period limit, and released again when a submission
// definitively fails. Entries outside any policy period are pruned lazily.
type SpendLedger interface {
	// SpentSince sums reserved spend at or after the cutoff.
	SpentSince(ctx context.Context, walletID string, since time.Time) (float64, error)
	// Reserve records spend and returns a reservation id.
	Reserve(ctx context.Context, walletID string, value float64, at time.Time) (string, error)
	// Release cancels a reservation; unknown ids are a no-op.
	Release(ctx context.Context, walletID, reservationID string) error
}
