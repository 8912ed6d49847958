package generatesimulations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

const (
	stage = "GenerateSimulations"

	defaultLease       = 5 * time.Minute
	defaultMaxAttempts = 3
)

var (
	// ErrUnexpectedEvent is returned when the claimed event is not a MeteorologyMinimized event.
	ErrUnexpectedEvent = errors.New("unexpected event")

	// ErrAggregateMismatch is returned when the event references another scene's aggregate.
	ErrAggregateMismatch = errors.New("aggregate does not belong to scene")

	// ErrInvalidOption is returned for out-of-range handler options.
	ErrInvalidOption = errors.New("invalid option")
)

// Handler processes one MeteorologyMinimized event per call.
type Handler struct {
	store        store.Store
	claimant     string
	lease        time.Duration
	maxAttempts  int
	clock        func() time.Time
	observe      shell.Observability
	retryOptions []shell.RetryOption
}

// NewHandler creates a Handler. The claimant defaults to a random id.
func NewHandler(st store.Store, opts ...Option) (*Handler, error) {
	h := &Handler{
		store:       st,
		claimant:    "generate-simulations-" + uuid.NewString(),
		lease:       defaultLease,
		maxAttempts: defaultMaxAttempts,
		clock:       time.Now,
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// ProcessNext claims and processes one event. It reports false if there was nothing to claim.
func (h *Handler) ProcessNext(ctx context.Context) (bool, error) {
	var claimed queue.ClaimedEvents
	_, err := shell.RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		var claimErr error
		claimed, claimErr = h.store.Claim(ctx, core.MeteorologyMinimizedEventName, 1, h.lease, h.claimant)
		return claimErr
	}, h.retryOptions...)
	if err != nil {
		return false, err
	}

	if len(claimed) == 0 {
		return false, nil
	}

	return true, h.process(ctx, claimed[0])
}

func (h *Handler) process(ctx context.Context, event queue.ClaimedEvent) error {
	ctx, obs := h.observe.Start(ctx, stage)
	obs.With(shell.LogAttrEventID, event.ID, shell.LogAttrAttempt, event.DeliveryCount)

	minimized, err := h.payloadOf(event)
	if err != nil {
		if event.DeliveryCount > h.maxAttempts {
			if ackErr := h.ack(ctx, event); ackErr != nil {
				return obs.Fail(errors.Join(err, ackErr))
			}
			obs.With(shell.LogAttrError, err.Error())
			obs.Succeed(shell.StatusFailed)
			return nil
		}
		return obs.Fail(err)
	}
	obs.With(shell.LogAttrSceneID, minimized.SceneID.String())

	if event.DeliveryCount > h.maxAttempts {
		if err := h.giveUp(ctx, event, minimized.SceneID); err != nil {
			return obs.Fail(err)
		}
		obs.Succeed(shell.StatusFailed)
		return nil
	}

	var created int
	outcome := shell.StatusSuccess
	err = h.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var txErr error
		created, outcome, txErr = h.generate(ctx, tx, event, minimized)
		return txErr
	})
	if err != nil {
		return obs.Fail(err)
	}

	obs.With("simulations_created", created)
	obs.Succeed(outcome)

	return nil
}

func (h *Handler) payloadOf(event queue.ClaimedEvent) (core.MeteorologyMinimized, error) {
	domainEvent, err := shell.DomainEventFrom(event)
	if err != nil {
		return core.MeteorologyMinimized{}, err
	}

	minimized, ok := domainEvent.(core.MeteorologyMinimized)
	if !ok {
		return core.MeteorologyMinimized{}, fmt.Errorf("%w: %s", ErrUnexpectedEvent, event.Name)
	}

	return minimized, nil
}

func (h *Handler) generate(
	ctx context.Context,
	tx store.Tx,
	event queue.ClaimedEvent,
	minimized core.MeteorologyMinimized,
) (int, string, error) {

	scene, err := tx.Scenes().GetForUpdate(ctx, minimized.SceneID)
	if err != nil {
		return 0, "", err
	}

	if scene.State != core.SceneStateMeteorologyReady {
		return 0, shell.StatusIdempotent, tx.Events().Ack(ctx, event.ID, h.claimant)
	}

	aggregate, err := tx.Aggregates().Get(ctx, minimized.AggregateID)
	if err != nil {
		return 0, "", err
	}
	if aggregate.SceneID != scene.ID {
		return 0, "", fmt.Errorf("%w: aggregate %s, scene %s", ErrAggregateMismatch, aggregate.ID, scene.ID)
	}

	receptors, err := tx.Receptors().ListByScene(ctx, scene.ID)
	if err != nil {
		return 0, "", err
	}

	configs, err := tx.Configs().ListByScene(ctx, scene.ID)
	if err != nil {
		return 0, "", err
	}

	now := h.clock()
	created := 0

	for _, receptor := range receptors {
		for _, config := range configs {
			simulation := core.BuildSimulation(receptor, config, aggregate.ID, now)

			inserted, err := tx.Simulations().InsertPending(ctx, simulation)
			if err != nil {
				return 0, "", err
			}
			if !inserted {
				continue
			}

			eventID, err := shell.AppendDomainEvent(ctx, tx.Events(), core.BuildSimulationCreated(simulation.ID, scene.ID, now))
			if err != nil {
				return 0, "", err
			}

			if err := tx.Simulations().SetEventID(ctx, simulation.ID, eventID); err != nil {
				return 0, "", err
			}

			created++
		}
	}

	if err := tx.Scenes().UpdateState(ctx, scene.ID, core.SceneStateMeteorologyReady, core.SceneStateSimulationsGenerated); err != nil {
		return 0, "", err
	}

	// A scene without receptor and config pairs has nothing left to wait for.
	if _, err := store.CompleteSceneIfFinished(ctx, tx, scene.ID); err != nil {
		return 0, "", err
	}

	return created, shell.StatusSuccess, tx.Events().Ack(ctx, event.ID, h.claimant)
}

// giveUp marks the scene failed and acknowledges the event so it is not delivered again.
func (h *Handler) giveUp(ctx context.Context, event queue.ClaimedEvent, sceneID uuid.UUID) error {
	return h.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		scene, err := tx.Scenes().GetForUpdate(ctx, sceneID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err == nil && !scene.State.IsTerminal() {
			reason := fmt.Sprintf("simulations not generated after %d attempts", event.DeliveryCount-1)
			if err := tx.Scenes().MarkFailed(ctx, sceneID, event.DeliveryCount-1, reason); err != nil {
				return err
			}
		}

		return tx.Events().Ack(ctx, event.ID, h.claimant)
	})
}

func (h *Handler) ack(ctx context.Context, event queue.ClaimedEvent) error {
	return h.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Events().Ack(ctx, event.ID, h.claimant)
	})
}

/*** Handler options ***/

// Option defines a functional option for configuring Handler.
type Option func(*Handler) error

// WithClaimant sets the identity recorded on claimed events.
func WithClaimant(claimant string) Option {
	return func(h *Handler) error {
		if claimant == "" {
			return fmt.Errorf("%w: empty claimant", ErrInvalidOption)
		}
		h.claimant = claimant
		return nil
	}
}

// WithLease sets how long a claimed event stays invisible to other workers.
func WithLease(lease time.Duration) Option {
	return func(h *Handler) error {
		if lease <= 0 {
			return fmt.Errorf("%w: lease must be positive", ErrInvalidOption)
		}
		h.lease = lease
		return nil
	}
}

// WithMaxAttempts sets how many deliveries of an event are processed before the scene fails.
func WithMaxAttempts(attempts int) Option {
	return func(h *Handler) error {
		if attempts <= 0 {
			return fmt.Errorf("%w: max attempts must be positive", ErrInvalidOption)
		}
		h.maxAttempts = attempts
		return nil
	}
}

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
