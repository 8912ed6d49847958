package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SceneState is a step in a scene's lifecycle.
type SceneState string

const (
	SceneStateCreated              SceneState = "created"
	SceneStateMeteorologyReady     SceneState = "meteorology_ready"
	SceneStateSimulationsGenerated SceneState = "simulations_generated"
	SceneStateCompleted            SceneState = "completed"
	SceneStateFailed               SceneState = "failed"
)

var sceneTransitions = map[SceneState][]SceneState{
	SceneStateCreated:              {SceneStateMeteorologyReady, SceneStateFailed},
	SceneStateMeteorologyReady:     {SceneStateSimulationsGenerated, SceneStateFailed},
	SceneStateSimulationsGenerated: {SceneStateCompleted},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s SceneState) CanTransitionTo(next SceneState) bool {
	for _, allowed := range sceneTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further transition is possible.
func (s SceneState) IsTerminal() bool {
	return s == SceneStateCompleted || s == SceneStateFailed
}

// Scene groups simulations sharing spatial/temporal context and configuration.
//
// NaturalKey is derived from the scene's definition and is unique, so creating the same
// scene twice yields a single row. Attempts and FailureReason are only set when a stage
// exhausted its retry budget.
type Scene struct {
	ID               uuid.UUID
	NaturalKey       string
	State            SceneState
	MeteorologyModel string
	Attempts         int
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BuildScene creates a scene in state Created.
func BuildScene(naturalKey, meteorologyModel string, createdAt time.Time) Scene {
	return Scene{
		ID:               NewID(),
		NaturalKey:       naturalKey,
		State:            SceneStateCreated,
		MeteorologyModel: meteorologyModel,
		CreatedAt:        createdAt.UTC(),
		UpdatedAt:        createdAt.UTC(),
	}
}

// TransitionTo returns the scene in state next, or ErrInvalidTransition.
func (s Scene) TransitionTo(next SceneState, at time.Time) (Scene, error) {
	if !s.State.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: scene %s from %s to %s", ErrInvalidTransition, s.ID, s.State, next)
	}

	s.State = next
	s.UpdatedAt = at.UTC()

	return s, nil
}
