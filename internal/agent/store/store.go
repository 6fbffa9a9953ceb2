// Package store defines the durable storage collaborator for agent,
// transaction, and rating records. The ranking index is rebuilt from this
// store on restart; the store is the source of truth.
package store

import (
	"context"
	"time"

	"arp/internal/agent/models"
	dErrors "arp/pkg/domain-errors"
)

// SortField enumerates the exact recognized sort fields for listings.
// Unrecognized fields are rejected at parse time so internal storage columns
// are never exposed through dynamic field selection.
type SortField string

const (
	SortByUnifiedScore     SortField = "unified_score"
	SortByCreatedAt        SortField = "created_at"
	SortByTotalStaked      SortField = "total_staked"
	SortByTransactionCount SortField = "transaction_count"
)

// ParseSortField validates a sort field, defaulting to unified score.
func ParseSortField(s string) (SortField, error) {
	if s == "" {
		return SortByUnifiedScore, nil
	}
	f := SortField(s)
	switch f {
	case SortByUnifiedScore, SortByCreatedAt, SortByTotalStaked, SortByTransactionCount:
		return f, nil
	}
	return "", dErrors.Newf(dErrors.CodeInvalidInput, "unrecognized sort field %q", s)
}

// Order is the listing sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder validates a sort order, defaulting to descending.
func ParseOrder(s string) (Order, error) {
	if s == "" {
		return OrderDesc, nil
	}
	o := Order(s)
	if o != OrderAsc && o != OrderDesc {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unrecognized order %q", s)
	}
	return o, nil
}

// ListFilter enumerates the recognized agent listing filters. Zero values
// mean "no filter". Only active agents are listed unless IncludeInactive.
type ListFilter struct {
	Tier            models.Tier
	Since           time.Time
	IncludeInactive bool
	Sort            SortField
	Order           Order
	Limit           int
	Offset          int
}

// AgentStore persists agent records.
type AgentStore interface {
	// CreateAgent stores a new agent. Returns sentinel.ErrConflict (wrapped)
	// if the wallet address is already registered; the address uniqueness
	// check and the insert are atomic.
	CreateAgent(ctx context.Context, agent *models.Agent) error
	// GetAgent returns the agent for a canonical (lowercase) address, or
	// sentinel.ErrNotFound.
	GetAgent(ctx context.Context, address string) (*models.Agent, error)
	// UpdateAgent replaces the stored record for agent.Address.
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	// ListAgents returns a page of agents plus the total count for the filter.
	ListAgents(ctx context.Context, filter ListFilter) ([]*models.Agent, int, error)
	// ListAllActive streams every active agent; used to rebuild the ranking
	// index on startup.
	ListAllActive(ctx context.Context) ([]*models.Agent, error)
}

// TransactionStore persists the append-only settlement ledger and ratings.
type TransactionStore interface {
	// RecordTransaction appends a settlement. Returns sentinel.ErrConflict if
	// the transaction id was already recorded (idempotent re-delivery guard).
	RecordTransaction(ctx context.Context, tx *models.Transaction) error
	// GetTransaction returns a transaction by id, or sentinel.ErrNotFound.
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// RecordRating attaches a rating to its transaction. Returns
	// sentinel.ErrAlreadyRated if the transaction already carries one, or
	// sentinel.ErrNotFound if the transaction does not exist.
	RecordRating(ctx context.Context, rating *models.Rating) error
	// ListByAgent returns the most recent transactions where the agent is
	// sender or receiver, newest first.
	ListByAgent(ctx context.Context, address string, limit int) ([]*models.Transaction, error)
	// Stats computes the fixed aggregates over ratings received by the agent.
	Stats(ctx context.Context, address string) (*models.AgentStats, error)
}
