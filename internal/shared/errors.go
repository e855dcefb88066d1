// ============================================================================
// internal/shared/errors.go
// Error taxonomy: every failure path carries a stable, machine-checkable kind
// ============================================================================

package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for API mapping and retry policy.
type ErrorKind string

const (
	// KindValidationFailed: input or precondition violates a static rule.
	// Reported with the offending count/field; never retried automatically.
	KindValidationFailed ErrorKind = "VALIDATION_FAILED"

	// KindLockedRecord: attempted mutation past the allowed mutability window
	// (marks after DRAFT, results after publish, audit entries always).
	KindLockedRecord ErrorKind = "LOCKED_RECORD"

	// KindNotFound: referenced entity does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindConflict: duplicate unique key (regno, subject code+regulation+semester).
	KindConflict ErrorKind = "CONFLICT"

	// KindAuthorization: caller's role or scope does not permit the operation.
	KindAuthorization ErrorKind = "AUTHORIZATION"

	// KindAuthentication: caller identity could not be established.
	KindAuthentication ErrorKind = "AUTHENTICATION"

	// KindReAuthRequired: operator action missing the re-auth credential.
	KindReAuthRequired ErrorKind = "REAUTH_REQUIRED"

	// KindReAuthFailed: re-auth credential did not verify.
	KindReAuthFailed ErrorKind = "REAUTH_FAILED"

	// KindRateLimited: bulk operation throttle exceeded.
	KindRateLimited ErrorKind = "RATE_LIMITED"

	// KindInternal: unexpected failure; mirrored to the audit trail.
	KindInternal ErrorKind = "INTERNAL"
)

// Error pairs a kind with a human-readable message and optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a kinded error.
func E(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain; unclassified errors are
// KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ItemError is one accumulated per-item failure inside a bulk operation.
// Bulk operations return these in a success envelope rather than aborting
// sibling items.
type ItemError struct {
	Key   string `json:"key"` // regno, subject code, or row index
	Error string `json:"error"`
}
