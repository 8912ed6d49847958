package store

import "errors"

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict is returned when a conditional state transition matched no row:
	// the entity was not in the expected state or is held by another claimant.
	ErrStateConflict = errors.New("state conflict")
)

// StaleClaimReason is recorded as last error on simulations released by SweepStale.
const StaleClaimReason = "claim went stale"
