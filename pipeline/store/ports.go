package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

// TxFunc is the body of a transaction. Returning an error rolls everything back.
type TxFunc func(ctx context.Context, tx Tx) error

// UnitOfWork runs a function inside one transaction.
type UnitOfWork interface {
	Transact(ctx context.Context, fn TxFunc) error
}

// Tx gives access to all repositories and the event log within one transaction.
type Tx interface {
	Scenes() SceneRepository
	Receptors() ReceptorRepository
	Configs() ConfigRepository
	Aggregates() AggregateRepository
	Simulations() SimulationRepository
	Events() EventLog
}

// EventLog appends and acknowledges events as part of the surrounding transaction.
type EventLog interface {
	Append(ctx context.Context, event queue.Event) (queue.EventID, error)
	Ack(ctx context.Context, id queue.EventID, claimant string) error
	Settle(ctx context.Context, id queue.EventID) error
}

// Queue holds the claim side of the event log. Each call is its own transaction.
type Queue interface {
	Claim(ctx context.Context, name string, batchSize int, lease time.Duration, claimant string) (queue.ClaimedEvents, error)
	ReclaimExpired(ctx context.Context, name string) (int64, error)
	BacklogCount(ctx context.Context, name string) (int64, error)
}

// Store is everything a pipeline stage needs from persistence.
type Store interface {
	UnitOfWork
	Queue
}

// SceneRepository persists scenes.
type SceneRepository interface {
	// Insert stores a new scene. It returns false, and changes nothing, if a scene with the
	// same natural key exists.
	Insert(ctx context.Context, scene core.Scene) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (core.Scene, error)
	// GetForUpdate loads a scene and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (core.Scene, error)
	GetByNaturalKey(ctx context.Context, naturalKey string) (core.Scene, error)
	// UpdateState moves a scene from one state to another, or returns ErrStateConflict.
	UpdateState(ctx context.Context, id uuid.UUID, from, to core.SceneState) error
	// MarkFailed moves a non-terminal scene to Failed, recording attempts and reason.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, reason string) error
}

// ReceptorRepository persists receptors. Receptors are immutable.
type ReceptorRepository interface {
	Insert(ctx context.Context, receptors []core.Receptor) error
	ListByScene(ctx context.Context, sceneID uuid.UUID) ([]core.Receptor, error)
	Get(ctx context.Context, id uuid.UUID) (core.Receptor, error)
}

// ConfigRepository persists simulation configs. Configs are immutable.
type ConfigRepository interface {
	Insert(ctx context.Context, configs []core.SimulationConfig) error
	ListByScene(ctx context.Context, sceneID uuid.UUID) ([]core.SimulationConfig, error)
	Get(ctx context.Context, id uuid.UUID) (core.SimulationConfig, error)
}

// AggregateRepository persists meteorology aggregates, at most one per scene.
type AggregateRepository interface {
	// Insert returns false if the scene already has an aggregate.
	Insert(ctx context.Context, aggregate core.MeteorologyAggregate) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (core.MeteorologyAggregate, error)
	GetByScene(ctx context.Context, sceneID uuid.UUID) (core.MeteorologyAggregate, error)
}

// SimulationRepository persists simulations and implements their claim protocol.
//
// Every transition out of Claimed or Running is conditional on the claimant, so a worker
// whose claim was swept can never overwrite the outcome of the worker that took over.
type SimulationRepository interface {
	// InsertPending returns false if a simulation for the same receptor and config exists.
	InsertPending(ctx context.Context, simulation core.Simulation) (bool, error)
	SetEventID(ctx context.Context, id uuid.UUID, eventID queue.EventID) error
	Get(ctx context.Context, id uuid.UUID) (core.Simulation, error)

	// ClaimNext moves one pending simulation to Claimed by claimant and increments its
	// attempt count. Concurrent callers never receive the same simulation.
	// It returns false if nothing is pending.
	ClaimNext(ctx context.Context, claimant string) (core.Simulation, bool, error)
	MarkRunning(ctx context.Context, id uuid.UUID, claimant string) error
	Complete(ctx context.Context, id uuid.UUID, claimant string, refs core.ArtifactRefs) error
	// Release ends the claimant's attempt, moving the simulation to Pending or Failed.
	Release(ctx context.Context, id uuid.UUID, claimant string, to core.SimulationState, lastError string) error

	// SweepStale releases simulations claimed longer than threshold ago: back to Pending
	// below maxAttempts, Expired otherwise. It returns the swept simulations in their new state.
	SweepStale(ctx context.Context, threshold time.Duration, maxAttempts int) ([]core.Simulation, error)

	CountByScene(ctx context.Context, sceneID uuid.UUID) (SimulationCounts, error)
	CountPending(ctx context.Context) (int64, error)
}

// SimulationCounts is the number of a scene's simulations per state.
type SimulationCounts map[core.SimulationState]int

// Total is the number of simulations.
func (c SimulationCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}

	return total
}

// Unfinished is the number of simulations not yet in a terminal state.
func (c SimulationCounts) Unfinished() int {
	return c[core.SimulationStatePending] + c[core.SimulationStateClaimed] + c[core.SimulationStateRunning]
}

// Successful is the number of completed simulations.
func (c SimulationCounts) Successful() int {
	return c[core.SimulationStateCompleted]
}
