package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

type event struct {
	id             queue.EventID
	name           string
	payload        []byte
	createdAt      time.Time
	claimedAt      *time.Time
	claimant       string
	leaseExpiresAt *time.Time
	deliveryCount  int
	processedAt    *time.Time
}

type pair struct {
	receptorID uuid.UUID
	configID   uuid.UUID
}

type state struct {
	scenes           map[uuid.UUID]core.Scene
	sceneByKey       map[string]uuid.UUID
	receptors        map[uuid.UUID]core.Receptor
	configs          map[uuid.UUID]core.SimulationConfig
	aggregates       map[uuid.UUID]core.MeteorologyAggregate
	aggregateByScene map[uuid.UUID]uuid.UUID
	simulations      map[uuid.UUID]core.Simulation
	simulationByPair map[pair]uuid.UUID
	events           map[queue.EventID]event
	nextEventID      queue.EventID
}

func newState() state {
	return state{
		scenes:           map[uuid.UUID]core.Scene{},
		sceneByKey:       map[string]uuid.UUID{},
		receptors:        map[uuid.UUID]core.Receptor{},
		configs:          map[uuid.UUID]core.SimulationConfig{},
		aggregates:       map[uuid.UUID]core.MeteorologyAggregate{},
		aggregateByScene: map[uuid.UUID]uuid.UUID{},
		simulations:      map[uuid.UUID]core.Simulation{},
		simulationByPair: map[pair]uuid.UUID{},
		events:           map[queue.EventID]event{},
		nextEventID:      1,
	}
}

// clone copies the maps. Values are plain structs, pointer fields are never mutated in place.
func (s state) clone() state {
	return state{
		scenes:           maps.Clone(s.scenes),
		sceneByKey:       maps.Clone(s.sceneByKey),
		receptors:        maps.Clone(s.receptors),
		configs:          maps.Clone(s.configs),
		aggregates:       maps.Clone(s.aggregates),
		aggregateByScene: maps.Clone(s.aggregateByScene),
		simulations:      maps.Clone(s.simulations),
		simulationByPair: maps.Clone(s.simulationByPair),
		events:           maps.Clone(s.events),
		nextEventID:      s.nextEventID,
	}
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu    sync.Mutex
	data  state
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, e.g. to let leases expire in tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New returns an empty Store.
func New(options ...Option) *Store {
	s := &Store{data: newState(), clock: time.Now}

	for _, option := range options {
		option(s)
	}

	return s
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// Transact runs fn with exclusive access. If fn fails, all its changes are discarded.
func (s *Store) Transact(ctx context.Context, fn store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.data.clone()

	if err := fn(ctx, &tx{s: s}); err != nil {
		s.data = snapshot
		return err
	}

	return nil
}

func (s *Store) isPending(e event, now time.Time) bool {
	return e.processedAt == nil && (e.claimedAt == nil || !e.leaseExpiresAt.After(now))
}

func (s *Store) sortedEventIDs() []queue.EventID {
	ids := make([]queue.EventID, 0, len(s.data.events))
	for id := range s.data.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Claim hands up to batchSize pending events named name to claimant.
func (s *Store) Claim(
	ctx context.Context,
	name string,
	batchSize int,
	lease time.Duration,
	claimant string,
) (queue.ClaimedEvents, error) {

	switch {
	case name == "":
		return nil, queue.ErrEmptyEventName
	case batchSize < 1:
		return nil, queue.ErrInvalidBatchSize
	case lease <= 0:
		return nil, queue.ErrInvalidLeaseDuration
	case claimant == "":
		return nil, queue.ErrEmptyClaimant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(lease)
	claimed := make(queue.ClaimedEvents, 0, batchSize)

	for _, id := range s.sortedEventIDs() {
		if len(claimed) == batchSize {
			break
		}

		e := s.data.events[id]
		if e.name != name || !s.isPending(e, now) {
			continue
		}

		e.claimedAt = &now
		e.claimant = claimant
		e.leaseExpiresAt = &expires
		e.deliveryCount++
		s.data.events[id] = e

		claimed = append(claimed, queue.ClaimedEvent{
			ID:             e.id,
			Name:           e.name,
			PayloadJSON:    e.payload,
			CreatedAt:      e.createdAt,
			ClaimedAt:      now,
			Claimant:       claimant,
			LeaseExpiresAt: expires,
			DeliveryCount:  e.deliveryCount,
		})
	}

	return claimed, nil
}

// ReclaimExpired clears the claim of every unprocessed event named name whose lease expired.
func (s *Store) ReclaimExpired(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := s.now()
	var released int64

	for id, e := range s.data.events {
		if e.name != name || e.processedAt != nil || e.leaseExpiresAt == nil || e.leaseExpiresAt.After(now) {
			continue
		}

		e.claimedAt, e.leaseExpiresAt, e.claimant = nil, nil, ""
		s.data.events[id] = e
		released++
	}

	return released, nil
}

// BacklogCount counts committed, unprocessed events named name.
func (s *Store) BacklogCount(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int64
	for _, e := range s.data.events {
		if e.name == name && e.processedAt == nil {
			count++
		}
	}

	return count, nil
}

// Scene returns a committed scene, for assertions.
func (s *Store) Scene(id uuid.UUID) (core.Scene, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene, ok := s.data.scenes[id]

	return scene, ok
}

// Scenes returns all committed scenes.
func (s *Store) Scenes() []core.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedValues(s.data.scenes, func(a, b core.Scene) bool { return a.CreatedAt.Before(b.CreatedAt) })
}

// Simulations returns all committed simulations.
func (s *Store) Simulations() []core.Simulation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedValues(s.data.simulations, func(a, b core.Simulation) bool { return a.ID.String() < b.ID.String() })
}

// Aggregates returns all committed meteorology aggregates.
func (s *Store) Aggregates() []core.MeteorologyAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedValues(s.data.aggregates, func(a, b core.MeteorologyAggregate) bool {
		return a.ID.String() < b.ID.String()
	})
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) bool) []V {
	values := make([]V, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return less(values[i], values[j]) })

	return values
}
