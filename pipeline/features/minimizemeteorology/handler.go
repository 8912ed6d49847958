package minimizemeteorology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/artifact"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

const (
	stage = "MinimizeMeteorology"

	defaultLease       = 15 * time.Minute
	defaultMaxAttempts = 3
)

var (
	// ErrUnexpectedEvent is returned when the claimed event is not a SceneCreated event.
	ErrUnexpectedEvent = errors.New("unexpected event")

	// ErrInvalidOption is returned for out-of-range handler options.
	ErrInvalidOption = errors.New("invalid option")
)

// Minimizer crops raw meteorology to an envelope.
type Minimizer interface {
	Minimize(ctx context.Context, model string, env core.Envelope) ([]byte, error)
}

// Handler processes one SceneCreated event per call.
type Handler struct {
	store        store.Store
	minimizer    Minimizer
	artifacts    artifact.Store
	claimant     string
	lease        time.Duration
	maxAttempts  int
	margin       core.Margin
	clock        func() time.Time
	observe      shell.Observability
	retryOptions []shell.RetryOption
}

// NewHandler creates a Handler. The claimant defaults to a random id.
func NewHandler(st store.Store, minimizer Minimizer, artifacts artifact.Store, opts ...Option) (*Handler, error) {
	h := &Handler{
		store:       st,
		minimizer:   minimizer,
		artifacts:   artifacts,
		claimant:    "minimize-meteorology-" + uuid.NewString(),
		lease:       defaultLease,
		maxAttempts: defaultMaxAttempts,
		margin:      core.DefaultMargin,
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
		claimed, claimErr = h.store.Claim(ctx, core.SceneCreatedEventName, 1, h.lease, h.claimant)
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

	sceneID, err := h.sceneIDFrom(event)
	if err != nil {
		if event.DeliveryCount > h.maxAttempts {
			return h.discard(ctx, obs, event, err)
		}
		return obs.Fail(err)
	}
	obs.With(shell.LogAttrSceneID, sceneID.String())

	if event.DeliveryCount > h.maxAttempts {
		if err := h.giveUp(ctx, event, sceneID); err != nil {
			return obs.Fail(err)
		}
		obs.Succeed(shell.StatusFailed)
		return nil
	}

	outcome, err := h.minimize(ctx, event, sceneID)
	if err != nil {
		return obs.Fail(err)
	}

	obs.Succeed(outcome)

	return nil
}

func (h *Handler) sceneIDFrom(event queue.ClaimedEvent) (uuid.UUID, error) {
	domainEvent, err := shell.DomainEventFrom(event)
	if err != nil {
		return uuid.Nil, err
	}

	created, ok := domainEvent.(core.SceneCreated)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnexpectedEvent, event.Name)
	}

	return created.SceneID, nil
}

func (h *Handler) minimize(ctx context.Context, event queue.ClaimedEvent, sceneID uuid.UUID) (string, error) {
	var (
		scene     core.Scene
		receptors []core.Receptor
		configs   []core.SimulationConfig
	)

	err := h.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if scene, err = tx.Scenes().Get(ctx, sceneID); err != nil {
			return err
		}
		if receptors, err = tx.Receptors().ListByScene(ctx, sceneID); err != nil {
			return err
		}
		configs, err = tx.Configs().ListByScene(ctx, sceneID)
		return err
	})
	if err != nil {
		return "", err
	}

	if scene.State != core.SceneStateCreated {
		return shell.StatusIdempotent, h.ack(ctx, event)
	}

	envelope, err := core.ComputeEnvelope(receptors, configs, h.margin)
	if err != nil {
		return "", fmt.Errorf("scene %s: %w", sceneID, err)
	}

	data, err := h.minimizer.Minimize(ctx, scene.MeteorologyModel, envelope)
	if err != nil {
		return "", fmt.Errorf("minimize meteorology for scene %s: %w", sceneID, err)
	}

	aggregate := core.BuildMeteorologyAggregate(sceneID, envelope)
	if err := h.artifacts.Put(ctx, aggregate.ArtifactKey, data); err != nil {
		return "", err
	}

	outcome := shell.StatusSuccess
	err = h.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.Scenes().GetForUpdate(ctx, sceneID)
		if err != nil {
			return err
		}

		if current.State != core.SceneStateCreated {
			outcome = shell.StatusIdempotent
			return tx.Events().Ack(ctx, event.ID, h.claimant)
		}

		inserted, err := tx.Aggregates().Insert(ctx, aggregate)
		if err != nil {
			return err
		}
		if !inserted {
			if aggregate, err = tx.Aggregates().GetByScene(ctx, sceneID); err != nil {
				return err
			}
		}

		if err := tx.Scenes().UpdateState(ctx, sceneID, core.SceneStateCreated, core.SceneStateMeteorologyReady); err != nil {
			return err
		}

		minimized := core.BuildMeteorologyMinimized(sceneID, aggregate.ID, h.clock())
		if _, err := shell.AppendDomainEvent(ctx, tx.Events(), minimized); err != nil {
			return err
		}

		return tx.Events().Ack(ctx, event.ID, h.claimant)
	})

	return outcome, err
}

// giveUp marks the scene failed and acknowledges the event so it is not delivered again.
func (h *Handler) giveUp(ctx context.Context, event queue.ClaimedEvent, sceneID uuid.UUID) error {
	return h.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		scene, err := tx.Scenes().GetForUpdate(ctx, sceneID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err == nil && !scene.State.IsTerminal() {
			reason := fmt.Sprintf("meteorology not minimized after %d attempts", event.DeliveryCount-1)
			if err := tx.Scenes().MarkFailed(ctx, sceneID, event.DeliveryCount-1, reason); err != nil {
				return err
			}
		}

		return tx.Events().Ack(ctx, event.ID, h.claimant)
	})
}

// discard acknowledges an event whose payload cannot be processed at all.
func (h *Handler) discard(ctx context.Context, obs *shell.Observation, event queue.ClaimedEvent, cause error) error {
	if err := h.ack(ctx, event); err != nil {
		return obs.Fail(errors.Join(cause, err))
	}

	obs.With(shell.LogAttrError, cause.Error())
	obs.Succeed(shell.StatusFailed)

	return nil
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

// WithMargin sets the expansion applied around the scene's receptors.
func WithMargin(margin core.Margin) Option {
	return func(h *Handler) error {
		h.margin = margin
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
