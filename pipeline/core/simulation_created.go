package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const SimulationCreatedEventName = "SimulationCreated"

// SimulationCreated records a new pending simulation. The execution pool claims simulation
// rows directly; the event is settled when the simulation reaches a terminal state, so its
// backlog equals the number of unfinished simulations.
type SimulationCreated struct {
	SimulationID uuid.UUID  `json:"simulation_id"`
	SceneID      uuid.UUID  `json:"scene_id"`
	OccurredAt   OccurredAt `json:"occurred_at"`
}

func BuildSimulationCreated(simulationID, sceneID uuid.UUID, occurredAt time.Time) SimulationCreated {
	return SimulationCreated{SimulationID: simulationID, SceneID: sceneID, OccurredAt: ToOccurredAt(occurredAt)}
}

func (e SimulationCreated) EventName() string {
	return SimulationCreatedEventName
}

func (e SimulationCreated) HasOccurredAt() time.Time {
	return e.OccurredAt
}

func (e SimulationCreated) Validate() error {
	return errors.Join(requireID("simulation_id", e.SimulationID), requireID("scene_id", e.SceneID))
}
