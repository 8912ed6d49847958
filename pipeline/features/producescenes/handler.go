package producescenes

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
)

const stage = "ProduceScenes"

// Result reports the scene a definition maps to and whether this call created it.
type Result struct {
	SceneID   uuid.UUID
	Created   bool
	Receptors int
	Configs   int
}

// Handler creates scenes from definitions.
type Handler struct {
	uow          store.UnitOfWork
	clock        func() time.Time
	observe      shell.Observability
	retryOptions []shell.RetryOption
}

// NewHandler creates a Handler writing through uow.
func NewHandler(uow store.UnitOfWork, opts ...Option) (Handler, error) {
	h := Handler{uow: uow, clock: time.Now}

	for _, opt := range opts {
		if err := opt(&h); err != nil {
			return Handler{}, err
		}
	}

	return h, nil
}

// Handle inserts the scene with its receptors and configs and appends SceneCreated, all in one
// transaction. A definition whose natural key already exists changes nothing.
func (h Handler) Handle(ctx context.Context, definition Definition) (Result, error) {
	ctx, obs := h.observe.Start(ctx, stage)

	definition = definition.Resolve(h.clock())
	if err := definition.Validate(); err != nil {
		return Result{}, obs.Fail(err)
	}

	naturalKey, err := definition.NaturalKey()
	if err != nil {
		return Result{}, obs.Fail(err)
	}

	var result Result
	_, err = shell.RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		var txErr error
		result, txErr = h.produce(ctx, definition, naturalKey)
		return txErr
	}, h.retryOptions...)
	if err != nil {
		return Result{}, obs.Fail(err)
	}

	obs.With(shell.LogAttrSceneID, result.SceneID.String())
	if !result.Created {
		obs.Succeed(shell.StatusIdempotent)
		return result, nil
	}

	obs.With("receptors", result.Receptors, "configs", result.Configs)
	obs.Succeed(shell.StatusSuccess)

	return result, nil
}

// HandleAll handles definitions in order and stops at the first error.
func (h Handler) HandleAll(ctx context.Context, definitions []Definition) ([]Result, error) {
	results := make([]Result, 0, len(definitions))

	for _, definition := range definitions {
		result, err := h.Handle(ctx, definition)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

func (h Handler) produce(ctx context.Context, definition Definition, naturalKey string) (Result, error) {
	var result Result

	err := h.uow.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		now := h.clock()
		scene := core.BuildScene(naturalKey, definition.MeteorologyModel, now)

		inserted, err := tx.Scenes().Insert(ctx, scene)
		if err != nil {
			return err
		}

		if !inserted {
			existing, err := tx.Scenes().GetByNaturalKey(ctx, naturalKey)
			if err != nil {
				return err
			}
			result = Result{SceneID: existing.ID}
			return nil
		}

		points := definition.Grid.Points()
		receptors := make([]core.Receptor, 0, len(points))
		for _, p := range points {
			receptors = append(receptors, core.BuildReceptor(scene.ID, p.X, p.Y, definition.ZAGL, *definition.RunTime))
		}

		configs := make([]core.SimulationConfig, 0, len(definition.Configs))
		for i, parameters := range definition.Configs {
			configs = append(configs, core.BuildSimulationConfig(scene.ID, i+1, parameters))
		}

		if err := tx.Receptors().Insert(ctx, receptors); err != nil {
			return err
		}

		if err := tx.Configs().Insert(ctx, configs); err != nil {
			return err
		}

		if _, err := shell.AppendDomainEvent(ctx, tx.Events(), core.BuildSceneCreated(scene.ID, now)); err != nil {
			return err
		}

		result = Result{SceneID: scene.ID, Created: true, Receptors: len(receptors), Configs: len(configs)}

		return nil
	})

	return result, err
}

/*** Handler options ***/

// Option defines a functional option for configuring Handler.
type Option func(*Handler) error

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) error {
		h.clock = clock
		return nil
	}
}

// WithObservability sets the logger, metrics and tracing collectors.
func WithObservability(o shell.Observability) Option {
	return func(h *Handler) error {
		h.observe = o
		return nil
	}
}

// WithRetryOptions configures the backoff used when the store is unavailable.
func WithRetryOptions(opts ...shell.RetryOption) Option {
	return func(h *Handler) error {
		h.retryOptions = opts
		return nil
	}
}
