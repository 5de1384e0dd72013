// Package errs provides the error taxonomy shared across the core.
// The arbiter and synchronizer use the kind of an error to decide between
// fallback, retry and surfacing to the user.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing decisions
type Kind string

const (
	// KindNetworkUnreachable marks transient failures: the arbiter falls
	// back to another source and the synchronizer retries with backoff.
	KindNetworkUnreachable Kind = "NETWORK_UNREACHABLE"

	// KindAuthExpired marks a stale token detected outside of login.
	// Triggers a full logout.
	KindAuthExpired Kind = "AUTH_EXPIRED"

	// KindAuthFailed marks a rejected login. Surfaced to the user,
	// no state is mutated.
	KindAuthFailed Kind = "AUTH_FAILED"

	// KindValidationRejected marks a permanent backend rejection.
	// Surfaced, never retried automatically.
	KindValidationRejected Kind = "VALIDATION_REJECTED"

	// KindStorageCorrupt marks a local cache failure. Logged, the
	// operation degrades to in-memory-only instead of crashing.
	KindStorageCorrupt Kind = "STORAGE_CORRUPT"
)

// Error carries a kind alongside the underlying cause
type Error struct {
	Kind       Kind
	StatusCode int // HTTP status when applicable, 0 otherwise
	Message    string
	Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain compatibility
func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a typed error without an underlying cause
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a typed error wrapping an underlying cause
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Underlying: err}
}

// Network creates a transient error for a failed network operation
func Network(operation string, err error) *Error {
	return &Error{
		Kind:       KindNetworkUnreachable,
		Message:    fmt.Sprintf("%s: network unreachable", operation),
		Underlying: err,
	}
}

// FromHTTP classifies an HTTP error status into the taxonomy.
// 401/403 mean a stale token, other 4xx are permanent rejections
// (408 and 429 excepted), 5xx are transient.
func FromHTTP(statusCode int, message string) *Error {
	kind := KindNetworkUnreachable
	switch {
	case statusCode == 401 || statusCode == 403:
		kind = KindAuthExpired
	case statusCode == 408 || statusCode == 429:
		kind = KindNetworkUnreachable
	case statusCode >= 400 && statusCode < 500:
		kind = KindValidationRejected
	}
	return &Error{Kind: kind, StatusCode: statusCode, Message: message}
}

// KindOf returns the kind of an error, or "" for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether an error should be retried
func IsTransient(err error) bool {
	return KindOf(err) == KindNetworkUnreachable
}

// IsPermanent reports whether an error must stop automatic retries
func IsPermanent(err error) bool {
	k := KindOf(err)
	return k == KindValidationRejected || k == KindAuthFailed
}
