package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidDomainEvent is returned when an event payload misses a required reference.
var ErrInvalidDomainEvent = errors.New("invalid domain event")

// DomainEvents is a slice of DomainEvent instances.
type DomainEvents = []DomainEvent

// DomainEvent is one of the pipeline's stage triggers.
// Each event name has a fixed payload shape, checked by Validate.
type DomainEvent interface {
	// EventName returns the name the event is appended and claimed under.
	EventName() string
	// HasOccurredAt returns when this event occurred.
	HasOccurredAt() time.Time
	// Validate checks that all references are set.
	Validate() error
}

// OccurredAt is the moment an event was raised, truncated to what Postgres stores.
type OccurredAt = time.Time

// ToOccurredAt normalizes t for persistence.
func ToOccurredAt(t time.Time) OccurredAt {
	return t.UTC().Truncate(time.Microsecond)
}

func requireID(field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.Join(ErrInvalidDomainEvent, errors.New(field+" is missing"))
	}

	return nil
}
