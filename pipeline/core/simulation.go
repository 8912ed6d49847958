package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SimulationState is a step in a simulation's lifecycle.
type SimulationState string

const (
	SimulationStatePending   SimulationState = "pending"
	SimulationStateClaimed   SimulationState = "claimed"
	SimulationStateRunning   SimulationState = "running"
	SimulationStateCompleted SimulationState = "completed"
	SimulationStateFailed    SimulationState = "failed"
	SimulationStateExpired   SimulationState = "expired"
)

var simulationTransitions = map[SimulationState][]SimulationState{
	SimulationStatePending: {SimulationStateClaimed},
	SimulationStateClaimed: {SimulationStateRunning, SimulationStatePending, SimulationStateFailed, SimulationStateExpired},
	SimulationStateRunning: {
		SimulationStateCompleted, SimulationStatePending, SimulationStateFailed, SimulationStateExpired,
	},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s SimulationState) CanTransitionTo(next SimulationState) bool {
	for _, allowed := range simulationTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// CanReleaseTo reports whether a worker may give up its claim by moving the simulation to next.
// Only the retry and failure paths qualify, Completed is reserved for Complete and Expired for the sweep.
func (s SimulationState) CanReleaseTo(next SimulationState) bool {
	if next != SimulationStatePending && next != SimulationStateFailed {
		return false
	}

	return s.CanTransitionTo(next)
}

// IsTerminal reports whether the simulation will never be claimed again.
func (s SimulationState) IsTerminal() bool {
	return s == SimulationStateCompleted || s == SimulationStateFailed || s == SimulationStateExpired
}

// IsActive reports whether a worker currently holds the simulation.
func (s SimulationState) IsActive() bool {
	return s == SimulationStateClaimed || s == SimulationStateRunning
}

// ArtifactRefs are the blob keys a completed simulation produced.
type ArtifactRefs struct {
	Trajectories string `json:"trajectories,omitempty"`
	Footprint    string `json:"footprint,omitempty"`
}

// IsEmpty reports whether no artifact was recorded.
func (r ArtifactRefs) IsEmpty() bool {
	return r.Trajectories == "" && r.Footprint == ""
}

// Simulation is one unit of work producing trajectories and a footprint for a receptor.
//
// AttemptCount counts started attempts: it is incremented when the simulation is claimed.
// EventID references the SimulationCreated event appended with it, settled once the
// simulation reaches a terminal state.
type Simulation struct {
	ID           uuid.UUID
	SceneID      uuid.UUID
	ReceptorID   uuid.UUID
	ConfigID     uuid.UUID
	AggregateID  uuid.UUID
	State        SimulationState
	AttemptCount int
	Claimant     string
	ClaimedAt    *time.Time
	EventID      int64
	ArtifactRefs ArtifactRefs
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BuildSimulation creates a pending simulation for one receptor and config pair.
func BuildSimulation(receptor Receptor, config SimulationConfig, aggregateID uuid.UUID, createdAt time.Time) Simulation {
	return Simulation{
		ID:          NewID(),
		SceneID:     receptor.SceneID,
		ReceptorID:  receptor.ID,
		ConfigID:    config.ID,
		AggregateID: aggregateID,
		State:       SimulationStatePending,
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   createdAt.UTC(),
	}
}

// StateAfterFailure is the state a simulation moves to after a failed or abandoned attempt.
// Below the attempt budget it becomes pending again, otherwise it ends in terminal.
func StateAfterFailure(attemptCount, maxAttempts int, terminal SimulationState) SimulationState {
	if attemptCount >= maxAttempts {
		return terminal
	}

	return SimulationStatePending
}

// TransitionTo returns the simulation in state next, or ErrInvalidTransition.
func (s Simulation) TransitionTo(next SimulationState, at time.Time) (Simulation, error) {
	if !s.State.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: simulation %s from %s to %s", ErrInvalidTransition, s.ID, s.State, next)
	}

	s.State = next
	s.UpdatedAt = at.UTC()

	return s, nil
}
