package handler

import (
	"strings"

	"arp/internal/agent/models"
	dErrors "arp/pkg/domain-errors"
)

// RegisterAgentRequest is the HTTP request body for POST /api/agents.
type RegisterAgentRequest struct {
	Address     string  `json:"address"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	StakeAmount float64 `json:"stake_amount"`
}

// Validate checks required fields. Domain invariants (address shape, name
// length, stake bounds) are enforced by the agent constructor.
func (r *RegisterAgentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Address = strings.TrimSpace(r.Address)
	if r.Address == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	return nil
}

// TransactionRequest is the HTTP request body for POST /api/transactions.
type TransactionRequest struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Value float64 `json:"value"`
	Hash  string  `json:"hash"`
}

func (r *TransactionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.From = strings.TrimSpace(r.From)
	r.To = strings.TrimSpace(r.To)
	if r.From == "" || r.To == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "from and to addresses are required")
	}
	return nil
}

// RatingRequest is the HTTP request body for POST /api/transactions/{id}/rating.
type RatingRequest struct {
	Score    *int   `json:"score"`
	Feedback string `json:"feedback"`
}

func (r *RatingRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Score == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "score is required")
	}
	return nil
}

// TrustScoreRequest is the HTTP request body for
// POST /api/agents/{address}/trust-score. A null score clears the external
// signal.
type TrustScoreRequest struct {
	Score   *float64 `json:"score"`
	Version string   `json:"version"`
}

func (r *TrustScoreRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Version = strings.TrimSpace(r.Version)
	if r.Version == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "version is required")
	}
	if r.Score != nil && (*r.Score < 0 || *r.Score > 100) {
		return dErrors.New(dErrors.CodeInvalidInput, "score must be between 0 and 100")
	}
	return nil
}

// StakeRequest is the HTTP request body for POST /api/agents/{address}/stake.
type StakeRequest struct {
	Amount float64 `json:"amount"`
}

func (r *StakeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Amount <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}
	return nil
}

// parseTierFilter validates an optional tier query parameter.
func parseTierFilter(raw string) (models.Tier, error) {
	if raw == "" {
		return "", nil
	}
	return models.ParseTier(raw)
}
