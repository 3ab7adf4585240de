package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure and carry no infrastructure dependency.

var (
	// Run setup errors: the run aborts before any work.
	ErrScope          = errors.New("invalid or inaccessible reconciliation scope")
	ErrInvalidOptions = errors.New("invalid reconciliation options")

	// Per-item errors
	ErrConflict    = errors.New("conflict: item was already resolved by another operation")
	ErrPersistence = errors.New("persistence failure")

	// Lookup errors
	ErrNotFound = errors.New("not found")
)

// IsSetupError reports whether err must stop a run before it starts.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrScope) || errors.Is(err, ErrInvalidOptions)
}
