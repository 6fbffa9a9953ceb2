// Package domainerrors defines the stable error taxonomy for the reputation
// engine. Services return these errors; the HTTP layer translates codes to
// status responses without leaking internal detail across the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable reason code.
type Code string

const (
	// CodeInvalidInput: malformed or out-of-range request data. Never retried.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest: structurally broken request (unparseable body, missing body).
	CodeBadRequest Code = "bad_request"
	// CodeConflict: uniqueness violation (e.g. wallet address already registered). Terminal.
	CodeConflict Code = "conflict"
	// CodeNotFound: referenced entity does not exist. Terminal.
	CodeNotFound Code = "not_found"
	// CodePolicyRejected: deterministic local policy rejection. Carries the
	// violated limit in the message. Never retried automatically.
	CodePolicyRejected Code = "policy_rejected"
	// CodeExternalFailure: the wallet/chain layer failed. Retryable by the
	// caller if no transaction hash was obtained.
	CodeExternalFailure Code = "external_failure"
	// CodeUnknown: bounded wait expired with unresolved outcome. The caller
	// must reconcile via a status query before retrying.
	CodeUnknown Code = "unknown"
	// CodeRateLimited: admission control rejected the request. Transient.
	CodeRateLimited Code = "rate_limited"
	// CodeInvariantViolation: a domain invariant would be broken. Indicates a
	// programming error or corrupted state, not bad user input.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal: unexpected infrastructure failure.
	CodeInternal Code = "internal_error"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The cause stays
// reachable through errors.Is/errors.As but is never serialized to clients.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) is a domain error with
// the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in the domain layer.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is delegates to errors.Is so callers can keep a single import.
func Is(err, target error) bool { return errors.Is(err, target) }
