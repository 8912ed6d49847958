package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

// tx operates on s.data while Transact holds the lock.
type tx struct {
	s *Store
}

func (t *tx) Scenes() store.SceneRepository           { return scenes{t.s} }
func (t *tx) Receptors() store.ReceptorRepository     { return receptors{t.s} }
func (t *tx) Configs() store.ConfigRepository         { return configs{t.s} }
func (t *tx) Aggregates() store.AggregateRepository   { return aggregates{t.s} }
func (t *tx) Simulations() store.SimulationRepository { return simulations{t.s} }
func (t *tx) Events() store.EventLog                  { return eventLog{t.s} }

func notFound(kind string, id any) error {
	return fmt.Errorf("%w: %s %v", store.ErrNotFound, kind, id)
}

type eventLog struct{ s *Store }

func (l eventLog) Append(_ context.Context, e queue.Event) (queue.EventID, error) {
	if _, err := queue.BuildEvent(e.Name, e.PayloadJSON); err != nil {
		return 0, err
	}

	d := &l.s.data
	id := d.nextEventID
	d.nextEventID++
	d.events[id] = event{id: id, name: e.Name, payload: e.PayloadJSON, createdAt: l.s.now()}

	return id, nil
}

func (l eventLog) Ack(_ context.Context, id queue.EventID, claimant string) error {
	if claimant == "" {
		return queue.ErrEmptyClaimant
	}

	e, ok := l.s.data.events[id]
	switch {
	case !ok:
		return queue.ErrEventNotFound
	case e.claimant != claimant:
		return queue.ErrLeaseLost
	case e.processedAt != nil:
		return nil
	}

	now := l.s.now()
	e.processedAt = &now
	l.s.data.events[id] = e

	return nil
}

func (l eventLog) Settle(_ context.Context, id queue.EventID) error {
	e, ok := l.s.data.events[id]
	if !ok || e.processedAt != nil {
		return nil
	}

	now := l.s.now()
	e.processedAt = &now
	l.s.data.events[id] = e

	return nil
}

type scenes struct{ s *Store }

func (r scenes) Insert(_ context.Context, scene core.Scene) (bool, error) {
	d := &r.s.data
	if _, exists := d.sceneByKey[scene.NaturalKey]; exists {
		return false, nil
	}

	d.scenes[scene.ID] = scene
	d.sceneByKey[scene.NaturalKey] = scene.ID

	return true, nil
}

func (r scenes) Get(_ context.Context, id uuid.UUID) (core.Scene, error) {
	scene, ok := r.s.data.scenes[id]
	if !ok {
		return core.Scene{}, notFound("scene", id)
	}

	return scene, nil
}

func (r scenes) GetForUpdate(ctx context.Context, id uuid.UUID) (core.Scene, error) {
	return r.Get(ctx, id)
}

func (r scenes) GetByNaturalKey(ctx context.Context, naturalKey string) (core.Scene, error) {
	id, ok := r.s.data.sceneByKey[naturalKey]
	if !ok {
		return core.Scene{}, notFound("scene with natural key", naturalKey)
	}

	return r.Get(ctx, id)
}

func (r scenes) UpdateState(_ context.Context, id uuid.UUID, from, to core.SceneState) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: scene %s from %s to %s", core.ErrInvalidTransition, id, from, to)
	}

	scene, ok := r.s.data.scenes[id]
	if !ok || scene.State != from {
		return fmt.Errorf("%w: scene %s is not %s", store.ErrStateConflict, id, from)
	}

	scene, err := scene.TransitionTo(to, r.s.now())
	if err != nil {
		return err
	}
	r.s.data.scenes[id] = scene

	return nil
}

func (r scenes) MarkFailed(_ context.Context, id uuid.UUID, attempts int, reason string) error {
	scene, ok := r.s.data.scenes[id]
	if !ok || scene.State.IsTerminal() {
		return fmt.Errorf("%w: scene %s cannot fail", store.ErrStateConflict, id)
	}

	scene.State = core.SceneStateFailed
	scene.Attempts = attempts
	scene.FailureReason = reason
	scene.UpdatedAt = r.s.now()
	r.s.data.scenes[id] = scene

	return nil
}

type receptors struct{ s *Store }

func (r receptors) Insert(_ context.Context, rs []core.Receptor) error {
	for _, receptor := range rs {
		r.s.data.receptors[receptor.ID] = receptor
	}

	return nil
}

func (r receptors) ListByScene(_ context.Context, sceneID uuid.UUID) ([]core.Receptor, error) {
	var out []core.Receptor
	for _, receptor := range r.s.data.receptors {
		if receptor.SceneID == sceneID {
			out = append(out, receptor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })

	return out, nil
}

func (r receptors) Get(_ context.Context, id uuid.UUID) (core.Receptor, error) {
	receptor, ok := r.s.data.receptors[id]
	if !ok {
		return core.Receptor{}, notFound("receptor", id)
	}

	return receptor, nil
}

type configs struct{ s *Store }

func (r configs) Insert(_ context.Context, cs []core.SimulationConfig) error {
	for _, config := range cs {
		r.s.data.configs[config.ID] = config
	}

	return nil
}

func (r configs) ListByScene(_ context.Context, sceneID uuid.UUID) ([]core.SimulationConfig, error) {
	var out []core.SimulationConfig
	for _, config := range r.s.data.configs {
		if config.SceneID == sceneID {
			out = append(out, config)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	return out, nil
}

func (r configs) Get(_ context.Context, id uuid.UUID) (core.SimulationConfig, error) {
	config, ok := r.s.data.configs[id]
	if !ok {
		return core.SimulationConfig{}, notFound("simulation config", id)
	}

	return config, nil
}

type aggregates struct{ s *Store }

func (r aggregates) Insert(_ context.Context, aggregate core.MeteorologyAggregate) (bool, error) {
	d := &r.s.data
	if _, exists := d.aggregateByScene[aggregate.SceneID]; exists {
		return false, nil
	}

	d.aggregates[aggregate.ID] = aggregate
	d.aggregateByScene[aggregate.SceneID] = aggregate.ID

	return true, nil
}

func (r aggregates) Get(_ context.Context, id uuid.UUID) (core.MeteorologyAggregate, error) {
	aggregate, ok := r.s.data.aggregates[id]
	if !ok {
		return core.MeteorologyAggregate{}, notFound("meteorology aggregate", id)
	}

	return aggregate, nil
}

func (r aggregates) GetByScene(ctx context.Context, sceneID uuid.UUID) (core.MeteorologyAggregate, error) {
	id, ok := r.s.data.aggregateByScene[sceneID]
	if !ok {
		return core.MeteorologyAggregate{}, notFound("meteorology aggregate for scene", sceneID)
	}

	return r.Get(ctx, id)
}

type simulations struct{ s *Store }

func (r simulations) InsertPending(_ context.Context, simulation core.Simulation) (bool, error) {
	d := &r.s.data
	key := pair{receptorID: simulation.ReceptorID, configID: simulation.ConfigID}
	if _, exists := d.simulationByPair[key]; exists {
		return false, nil
	}

	simulation.State = core.SimulationStatePending
	d.simulations[simulation.ID] = simulation
	d.simulationByPair[key] = simulation.ID

	return true, nil
}

func (r simulations) SetEventID(_ context.Context, id uuid.UUID, eventID queue.EventID) error {
	simulation, ok := r.s.data.simulations[id]
	if !ok {
		return notFound("simulation", id)
	}

	simulation.EventID = eventID
	r.s.data.simulations[id] = simulation

	return nil
}

func (r simulations) Get(_ context.Context, id uuid.UUID) (core.Simulation, error) {
	simulation, ok := r.s.data.simulations[id]
	if !ok {
		return core.Simulation{}, notFound("simulation", id)
	}

	return simulation, nil
}

func (r simulations) ClaimNext(_ context.Context, claimant string) (core.Simulation, bool, error) {
	if claimant == "" {
		return core.Simulation{}, false, queue.ErrEmptyClaimant
	}

	var next *core.Simulation
	for _, simulation := range r.s.data.simulations {
		if simulation.State != core.SimulationStatePending {
			continue
		}

		if next == nil || simulation.CreatedAt.Before(next.CreatedAt) ||
			(simulation.CreatedAt.Equal(next.CreatedAt) && simulation.ID.String() < next.ID.String()) {
			candidate := simulation
			next = &candidate
		}
	}

	if next == nil {
		return core.Simulation{}, false, nil
	}

	now := r.s.now()
	next.State = core.SimulationStateClaimed
	next.Claimant = claimant
	next.ClaimedAt = &now
	next.AttemptCount++
	next.UpdatedAt = now
	r.s.data.simulations[next.ID] = *next

	return *next, true, nil
}

// transition moves a simulation held by claimant in one of the from states to next,
// then applies change.
func (r simulations) transition(
	id uuid.UUID,
	claimant string,
	from []core.SimulationState,
	next core.SimulationState,
	change func(*core.Simulation),
) error {

	simulation, ok := r.s.data.simulations[id]
	if !ok || simulation.Claimant != claimant || !inStates(simulation.State, from) {
		return fmt.Errorf("%w: simulation %s is not held by %s", store.ErrStateConflict, id, claimant)
	}

	simulation, err := simulation.TransitionTo(next, r.s.now())
	if err != nil {
		return err
	}

	change(&simulation)
	r.s.data.simulations[id] = simulation

	return nil
}

func (r simulations) MarkRunning(_ context.Context, id uuid.UUID, claimant string) error {
	claimed := []core.SimulationState{core.SimulationStateClaimed}

	return r.transition(id, claimant, claimed, core.SimulationStateRunning, func(*core.Simulation) {})
}

func (r simulations) Complete(_ context.Context, id uuid.UUID, claimant string, refs core.ArtifactRefs) error {
	running := []core.SimulationState{core.SimulationStateRunning}

	return r.transition(id, claimant, running, core.SimulationStateCompleted, func(s *core.Simulation) {
		s.ArtifactRefs = refs
		s.LastError = ""
	})
}

func (r simulations) Release(
	_ context.Context,
	id uuid.UUID,
	claimant string,
	to core.SimulationState,
	lastError string,
) error {

	if !core.SimulationStateRunning.CanReleaseTo(to) {
		return fmt.Errorf("%w: simulation %s cannot be released to %s", core.ErrInvalidTransition, id, to)
	}

	active := []core.SimulationState{core.SimulationStateClaimed, core.SimulationStateRunning}

	return r.transition(id, claimant, active, to, func(s *core.Simulation) {
		s.Claimant = ""
		s.ClaimedAt = nil
		s.LastError = lastError
	})
}

func (r simulations) SweepStale(_ context.Context, threshold time.Duration, maxAttempts int) ([]core.Simulation, error) {
	now := r.s.now()
	cutoff := now.Add(-threshold)

	var swept []core.Simulation
	for id, simulation := range r.s.data.simulations {
		if !simulation.State.IsActive() || simulation.ClaimedAt == nil || simulation.ClaimedAt.After(cutoff) {
			continue
		}

		simulation.State = core.StateAfterFailure(simulation.AttemptCount, maxAttempts, core.SimulationStateExpired)
		simulation.Claimant = ""
		simulation.ClaimedAt = nil
		simulation.LastError = store.StaleClaimReason
		simulation.UpdatedAt = now
		r.s.data.simulations[id] = simulation

		swept = append(swept, simulation)
	}

	return swept, nil
}

func (r simulations) CountByScene(_ context.Context, sceneID uuid.UUID) (store.SimulationCounts, error) {
	counts := store.SimulationCounts{}
	for _, simulation := range r.s.data.simulations {
		if simulation.SceneID == sceneID {
			counts[simulation.State]++
		}
	}

	return counts, nil
}

func (r simulations) CountPending(_ context.Context) (int64, error) {
	var count int64
	for _, simulation := range r.s.data.simulations {
		if simulation.State == core.SimulationStatePending {
			count++
		}
	}

	return count, nil
}

func inStates(s core.SimulationState, states []core.SimulationState) bool {
	for _, candidate := range states {
		if s == candidate {
			return true
		}
	}

	return false
}
