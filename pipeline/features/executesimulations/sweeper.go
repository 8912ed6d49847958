package executesimulations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
)

const (
	sweepStage = "SweepStaleClaims"

	defaultStaleThreshold = 2 * time.Hour
)

// SweepResult counts what one sweep recovered.
type SweepResult struct {
	Requeued int
	Expired  int
	// ReclaimedEvents counts stage events whose lease had expired, by event name.
	ReclaimedEvents map[string]int64
}

// Sweeper releases simulations whose claim went stale and reopens stage events with expired leases.
//
// The stale threshold must exceed the longest simulation deadline, otherwise a simulation that is
// still running can be handed to a second worker.
type Sweeper struct {
	st          store.Store
	threshold   time.Duration
	maxAttempts int
	eventNames  []string
	observe     shell.Observability
}

// NewSweeper creates a Sweeper.
func NewSweeper(st store.Store, opts ...SweeperOption) (*Sweeper, error) {
	s := &Sweeper{
		st:          st,
		threshold:   defaultStaleThreshold,
		maxAttempts: defaultMaxAttempts,
		eventNames:  []string{core.SceneCreatedEventName, core.MeteorologyMinimizedEventName},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, obs := s.observe.Start(ctx, sweepStage)
	result := SweepResult{ReclaimedEvents: map[string]int64{}}

	err := s.st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		result.Requeued, result.Expired = 0, 0

		swept, err := tx.Simulations().SweepStale(ctx, s.threshold, s.maxAttempts)
		if err != nil {
			return err
		}

		scenes := map[uuid.UUID]struct{}{}
		for _, sim := range swept {
			if !sim.State.IsTerminal() {
				result.Requeued++
				continue
			}

			result.Expired++
			if sim.EventID != 0 {
				if err := tx.Events().Settle(ctx, sim.EventID); err != nil {
					return err
				}
			}
			scenes[sim.SceneID] = struct{}{}
		}

		for sceneID := range scenes {
			if _, err := store.CompleteSceneIfFinished(ctx, tx, sceneID); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return SweepResult{}, obs.Fail(err)
	}

	for _, name := range s.eventNames {
		n, err := s.st.ReclaimExpired(ctx, name)
		if err != nil {
			return result, obs.Fail(err)
		}
		result.ReclaimedEvents[name] = n
	}

	obs.With("requeued", result.Requeued, "expired", result.Expired)
	obs.Succeed(shell.StatusSuccess)

	return result, nil
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper) error

// WithStaleThreshold sets how long a claim may last before it is considered abandoned.
func WithStaleThreshold(threshold time.Duration) SweeperOption {
	return func(s *Sweeper) error {
		if threshold <= 0 {
			return fmt.Errorf("%w: stale threshold must be positive", ErrInvalidOption)
		}
		s.threshold = threshold
		return nil
	}
}

// WithSweepMaxAttempts sets the attempt budget, matching the handlers' WithMaxAttempts.
func WithSweepMaxAttempts(attempts int) SweeperOption {
	return func(s *Sweeper) error {
		if attempts <= 0 {
			return fmt.Errorf("%w: max attempts must be positive", ErrInvalidOption)
		}
		s.maxAttempts = attempts
		return nil
	}
}

// WithSweepObservability sets the logger, metrics and tracing collectors.
func WithSweepObservability(o shell.Observability) SweeperOption {
	return func(s *Sweeper) error {
		s.observe = o
		return nil
	}
}
