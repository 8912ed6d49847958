package executesimulations

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
	"github.com/AntonStoeckl/stilt-pipeline-go/simulation"
)

const (
	stage = "ExecuteSimulations"

	defaultMaxAttempts = 3
	defaultDeadline    = time.Hour
	maxErrorLength     = 2000
)

var (
	// ErrInvalidOption is returned for out-of-range handler options.
	ErrInvalidOption = errors.New("invalid option")
)

// Handler executes one pending simulation per call.
type Handler struct {
	uow          store.UnitOfWork
	runner       simulation.Runner
	artifacts    artifact.Store
	claimant     string
	maxAttempts  int
	deadline     time.Duration
	maxDeadline  time.Duration
	observe      shell.Observability
	retryOptions []shell.RetryOption
}

// NewHandler creates a Handler. The claimant defaults to a random id.
func NewHandler(uow store.UnitOfWork, runner simulation.Runner, artifacts artifact.Store, opts ...Option) (*Handler, error) {
	h := &Handler{
		uow:         uow,
		runner:      runner,
		artifacts:   artifacts,
		claimant:    "execute-simulations-" + uuid.NewString(),
		maxAttempts: defaultMaxAttempts,
		deadline:    defaultDeadline,
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// Claimant is the identity this handler claims simulations under.
func (h *Handler) Claimant() string {
	return h.claimant
}

// ProcessNext claims and runs one simulation. It reports false if none was pending.
//
// A failed run is not an error: the simulation is released for another attempt or, once its
// budget is spent, marked failed. Errors are returned only when the outcome could not be
// recorded, or when ctx ends, in which case the claim is left for the sweeper.
func (h *Handler) ProcessNext(ctx context.Context) (bool, error) {
	var (
		sim     core.Simulation
		claimed bool
	)

	_, err := shell.RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		return h.uow.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
			var claimErr error
			sim, claimed, claimErr = tx.Simulations().ClaimNext(ctx, h.claimant)
			return claimErr
		})
	}, h.retryOptions...)
	if err != nil {
		return false, err
	}

	if !claimed {
		return false, nil
	}

	return true, h.execute(ctx, sim)
}

func (h *Handler) execute(ctx context.Context, sim core.Simulation) error {
	ctx, obs := h.observe.Start(ctx, stage)
	obs.With(
		shell.LogAttrSimulationID, sim.ID.String(),
		shell.LogAttrSceneID, sim.SceneID.String(),
		shell.LogAttrAttempt, sim.AttemptCount,
	)

	refs, runErr := h.run(ctx, sim)

	if ctx.Err() != nil {
		return obs.Fail(errors.Join(ctx.Err(), runErr))
	}

	if runErr == nil {
		if err := h.complete(ctx, sim, refs); err != nil {
			return obs.Fail(err)
		}
		obs.Succeed(shell.StatusSuccess)
		return nil
	}

	if errors.Is(runErr, store.ErrStateConflict) {
		// The claim was swept and possibly taken over, the new holder owns the outcome.
		return obs.Fail(runErr)
	}

	next, err := h.release(ctx, sim, runErr)
	if err != nil {
		return obs.Fail(errors.Join(runErr, err))
	}

	obs.With(shell.LogAttrError, runErr.Error())
	if next.IsTerminal() {
		obs.Succeed(shell.StatusFailed)
	} else {
		obs.Succeed(shell.StatusRetry)
	}

	return nil
}

// run moves the simulation to Running, loads its inputs and runs it under the deadline.
func (h *Handler) run(ctx context.Context, sim core.Simulation) (core.ArtifactRefs, error) {
	var (
		receptor  core.Receptor
		config    core.SimulationConfig
		aggregate core.MeteorologyAggregate
	)

	err := h.uow.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Simulations().MarkRunning(ctx, sim.ID, h.claimant); err != nil {
			return err
		}

		var err error
		if receptor, err = tx.Receptors().Get(ctx, sim.ReceptorID); err != nil {
			return err
		}
		if config, err = tx.Configs().Get(ctx, sim.ConfigID); err != nil {
			return err
		}
		aggregate, err = tx.Aggregates().Get(ctx, sim.AggregateID)
		return err
	})
	if err != nil {
		return core.ArtifactRefs{}, err
	}

	meteorology, err := h.artifacts.Get(ctx, aggregate.ArtifactKey)
	if err != nil {
		return core.ArtifactRefs{}, fmt.Errorf("load meteorology: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.deadlineFor(config))
	defer cancel()

	outputs, err := h.runner.Run(runCtx, simulation.Inputs{
		SimulationID: sim.ID,
		Receptor:     receptor,
		Config:       config,
		Meteorology:  meteorology,
	})
	if err != nil {
		return core.ArtifactRefs{}, err
	}

	if len(outputs.Footprint) == 0 {
		return core.ArtifactRefs{}, simulation.ErrNoFootprint
	}

	refs := core.ArtifactRefs{Footprint: core.FootprintArtifactKey(sim.ID)}
	if err := h.artifacts.Put(ctx, refs.Footprint, outputs.Footprint); err != nil {
		return core.ArtifactRefs{}, err
	}

	if len(outputs.Trajectories) > 0 {
		refs.Trajectories = core.TrajectoriesArtifactKey(sim.ID)
		if err := h.artifacts.Put(ctx, refs.Trajectories, outputs.Trajectories); err != nil {
			return core.ArtifactRefs{}, err
		}
	}

	return refs, nil
}

// deadlineFor returns the config's own timeout or the handler default, capped by the max deadline.
func (h *Handler) deadlineFor(config core.SimulationConfig) time.Duration {
	deadline := config.Parameters.Deadline(h.deadline)
	if h.maxDeadline > 0 && deadline > h.maxDeadline {
		return h.maxDeadline
	}

	return deadline
}

func (h *Handler) complete(ctx context.Context, sim core.Simulation, refs core.ArtifactRefs) error {
	return h.uow.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Simulations().Complete(ctx, sim.ID, h.claimant, refs); err != nil {
			return err
		}

		return finish(ctx, tx, sim)
	})
}

func (h *Handler) release(ctx context.Context, sim core.Simulation, cause error) (core.SimulationState, error) {
	next := core.StateAfterFailure(sim.AttemptCount, h.maxAttempts, core.SimulationStateFailed)

	err := h.uow.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Simulations().Release(ctx, sim.ID, h.claimant, next, truncate(cause.Error())); err != nil {
			return err
		}

		if !next.IsTerminal() {
			return nil
		}

		return finish(ctx, tx, sim)
	})

	return next, err
}

// finish settles the simulation's event and completes its scene if nothing else is outstanding.
func finish(ctx context.Context, tx store.Tx, sim core.Simulation) error {
	if sim.EventID != 0 {
		if err := tx.Events().Settle(ctx, sim.EventID); err != nil {
			return err
		}
	}

	_, err := store.CompleteSceneIfFinished(ctx, tx, sim.SceneID)

	return err
}

func truncate(s string) string {
	if len(s) > maxErrorLength {
		return s[:maxErrorLength]
	}

	return s
}

/*** Handler options ***/

// Option defines a functional option for configuring Handler.
type Option func(*Handler) error

// WithClaimant sets the identity recorded on claimed simulations.
func WithClaimant(claimant string) Option {
	return func(h *Handler) error {
		if claimant == "" {
			return fmt.Errorf("%w: empty claimant", ErrInvalidOption)
		}
		h.claimant = claimant
		return nil
	}
}

// WithMaxAttempts sets how many attempts a simulation gets before it fails.
func WithMaxAttempts(attempts int) Option {
	return func(h *Handler) error {
		if attempts <= 0 {
			return fmt.Errorf("%w: max attempts must be positive", ErrInvalidOption)
		}
		h.maxAttempts = attempts
		return nil
	}
}

// WithDeadline sets the run deadline for configs that do not set their own timeout.
func WithDeadline(deadline time.Duration) Option {
	return func(h *Handler) error {
		if deadline <= 0 {
			return fmt.Errorf("%w: deadline must be positive", ErrInvalidOption)
		}
		h.deadline = deadline
		return nil
	}
}

// WithMaxDeadline caps every run deadline, including per-config timeouts.
// It must stay below the sweeper's stale threshold so a running claim is never requeued.
func WithMaxDeadline(deadline time.Duration) Option {
	return func(h *Handler) error {
		if deadline <= 0 {
			return fmt.Errorf("%w: max deadline must be positive", ErrInvalidOption)
		}
		h.maxDeadline = deadline
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
