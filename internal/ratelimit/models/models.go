// Package models defines the admission-control vocabulary: endpoint classes,
// per-class limits, and the result of a sliding-window check.
package models

import "time"

// EndpointClass groups endpoints that share a rate budget.
type EndpointClass string

const (
	// ClassRead covers listing and lookup endpoints.
	ClassRead EndpointClass = "read"
	// ClassWrite covers registration, settlement, and rating endpoints.
	ClassWrite EndpointClass = "write"
	// ClassExecute covers wallet execution, the most expensive path.
	ClassExecute EndpointClass = "execute"
)

// ClassConfig is the explicit limit and window for one endpoint class.
type ClassConfig struct {
	Limit  int
	Window time.Duration
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is the whole-second wait before the next attempt can
	// succeed; only meaningful when Allowed is false.
	RetryAfter int
}
