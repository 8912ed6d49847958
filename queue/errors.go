package queue

import "errors"

var (
	// ErrQueueUnavailable is joined onto every storage error, so callers can classify failures with errors.Is.
	ErrQueueUnavailable = errors.New("queue store unavailable")

	// ErrEmptyEventsTableName is returned when an empty table name is configured.
	ErrEmptyEventsTableName = errors.New("empty events table name supplied")

	// ErrNilDatabaseConnection is returned when a nil database handle is supplied.
	ErrNilDatabaseConnection = errors.New("nil database connection supplied")

	// ErrEmptyEventName is returned when an event without a name is built or claimed.
	ErrEmptyEventName = errors.New("event name must not be empty")

	// ErrInvalidPayloadJSON is returned when an event payload is not valid JSON.
	ErrInvalidPayloadJSON = errors.New("payload json is not valid")

	// ErrInvalidBatchSize is returned when a claim asks for less than one event.
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrInvalidLeaseDuration is returned when a claim is requested with a non-positive lease.
	ErrInvalidLeaseDuration = errors.New("lease duration must be positive")

	// ErrEmptyClaimant is returned when a claim or ack carries no claimant identity.
	ErrEmptyClaimant = errors.New("claimant must not be empty")

	// ErrLeaseLost is returned by Ack when the event is no longer held by the acking claimant.
	// The surrounding transaction must be rolled back, another claimant owns the work now.
	ErrLeaseLost = errors.New("lease lost, event is held by another claimant")

	// ErrEventNotFound is returned when an ack targets an event id that does not exist.
	ErrEventNotFound = errors.New("event not found")
)
