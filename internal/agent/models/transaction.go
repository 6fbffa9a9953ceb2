package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "arp/pkg/domain-errors"
)

// Transaction records one settled interaction between two agents. The ledger
// is append-only; a transaction is immutable once recorded.
type Transaction struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     float64   `json:"value"`
	Hash      string    `json:"hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Rating    *Rating   `json:"rating,omitempty"`
}

// Rating is an optional assessment attached to exactly one transaction.
// It contributes to the receiver's sub-score exactly once.
type Rating struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Score         int       `json:"score"`
	Feedback      string    `json:"feedback,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewTransaction creates a Transaction with domain invariant validation.
func NewTransaction(from, to string, value float64, hash string, now time.Time) (*Transaction, error) {
	from = NormalizeAddress(from)
	to = NormalizeAddress(to)
	if !ValidAddress(from) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sender address is malformed")
	}
	if !ValidAddress(to) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "receiver address is malformed")
	}
	if from == to {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sender and receiver must differ")
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "value must be a finite non-negative number")
	}

	return &Transaction{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Value:     value,
		Hash:      hash,
		CreatedAt: now,
	}, nil
}

// NewRating creates a Rating with domain invariant validation. Score bounds
// come from the fixed rating range, not configuration: out-of-range ratings
// are invalid signals everywhere.
func NewRating(transactionID string, score int, feedback string, now time.Time) (*Rating, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "transaction id is required")
	}
	if score < RatingMin || score > RatingMax {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "rating score must be between %d and %d", RatingMin, RatingMax)
	}
	if len(feedback) > 1000 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "feedback must be at most 1000 characters")
	}

	return &Rating{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		Score:         score,
		Feedback:      feedback,
		CreatedAt:     now,
	}, nil
}

// AgentStats are the fixed, named aggregates exposed for one agent. They are
// computed by the store through typed queries, never dynamic SQL.
type AgentStats struct {
	TotalTransactions int     `json:"total_transactions"`
	AverageRating     float64 `json:"average_rating"`
	PositiveRatings   int     `json:"positive_ratings"`
	NegativeRatings   int     `json:"negative_ratings"`
}
