package queue

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// EventID identifies an appended event. IDs are assigned by the store and grow monotonically,
// but consumers must not rely on processing order.
type EventID = int64

// Event is a DTO used to append a named payload to the queue.
//
// It is built on scalars so the queue stays agnostic of how callers model their payloads.
// Construct it with BuildEvent.
type Event struct {
	Name        string
	PayloadJSON []byte
}

// BuildEvent is a factory method for Event.
// Returns an error if name is empty or payloadJSON is not valid JSON.
func BuildEvent(name string, payloadJSON []byte) (Event, error) {
	if name == "" {
		return Event{}, ErrEmptyEventName
	}

	if !jsoniter.ConfigFastest.Valid(payloadJSON) {
		return Event{}, ErrInvalidPayloadJSON
	}

	return Event{Name: name, PayloadJSON: payloadJSON}, nil
}

// ClaimedEvent is an event handed to a single claimant.
//
// DeliveryCount counts how often the event was claimed, including the current claim.
// A value above one means an earlier claimant lost its lease without acknowledging.
type ClaimedEvent struct {
	ID             EventID
	Name           string
	PayloadJSON    []byte
	CreatedAt      time.Time
	ClaimedAt      time.Time
	Claimant       string
	LeaseExpiresAt time.Time
	DeliveryCount  int
}

// ClaimedEvents is an alias type for a slice of ClaimedEvent.
type ClaimedEvents = []ClaimedEvent
