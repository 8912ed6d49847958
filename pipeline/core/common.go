package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTransition is returned when a state change is not allowed by the lifecycle.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoReceptors is returned when an envelope is requested for a scene without receptors.
	ErrNoReceptors = errors.New("scene has no receptors")

	// ErrInvalidGrid is returned when a receptor grid has a non-positive resolution or inverted bounds.
	ErrInvalidGrid = errors.New("invalid receptor grid")
)

// NewID returns a new time-ordered identifier.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// FloorHour truncates t to the start of its hour in UTC.
func FloorHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// CeilHour rounds t up to the next full hour in UTC, or returns t if it already is one.
func CeilHour(t time.Time) time.Time {
	floored := FloorHour(t)
	if floored.Equal(t.UTC()) {
		return floored
	}

	return floored.Add(time.Hour)
}
