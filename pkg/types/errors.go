package types

import "errors"

// Sentinel errors shared across the controller. Callers classify failures
// with errors.Is; the API layer maps them onto HTTP status codes.
var (
	// ErrNotFound indicates the referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the operation contradicts current state
	ErrConflict = errors.New("conflict with current state")

	// ErrStaleAssignment indicates a report for an assignment the caller
	// no longer holds. The audit row is still written.
	ErrStaleAssignment = errors.New("assignment no longer held")

	// ErrAuth indicates the presented credentials failed verification
	ErrAuth = errors.New("authentication failed")

	// ErrForbidden indicates the principal lacks rights for the operation
	ErrForbidden = errors.New("forbidden")

	// ErrNoWork indicates no challenge is assignable to the caller
	ErrNoWork = errors.New("no work available")

	// ErrCorrupt indicates on-disk state failed an integrity check.
	// This is fatal; the process must not keep serving.
	ErrCorrupt = errors.New("storage corrupted")
)
