// Package worker runs a stage handler in a pool of goroutines until the work runs out,
// the context ends, or the queue stays unavailable.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

const (
	defaultConcurrency            = 1
	defaultPollInterval           = 5 * time.Second
	defaultMaxConsecutiveFailures = 10
)

var (
	// ErrTooManyFailures is returned when the handler failed too often in a row.
	ErrTooManyFailures = errors.New("too many consecutive failures")

	// ErrInvalidOption is returned for out-of-range pool options.
	ErrInvalidOption = errors.New("invalid option")
)

// Processor handles one unit of work per call and reports whether there was any.
type Processor interface {
	ProcessNext(ctx context.Context) (bool, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context) (bool, error)

func (f ProcessorFunc) ProcessNext(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Stats summarizes a finished Run.
type Stats struct {
	Processed int64
	Failed    int64
}

// Pool runs a Processor concurrently.
type Pool struct {
	name                   string
	processor              Processor
	concurrency            int
	pollInterval           time.Duration
	exitOnEmpty            bool
	maxConsecutiveFailures int64
	logger                 queue.Logger

	processed           atomic.Int64
	failed              atomic.Int64
	consecutiveFailures atomic.Int64
}

// New creates a Pool named name.
func New(name string, processor Processor, opts ...Option) (*Pool, error) {
	p := &Pool{
		name:                   name,
		processor:              processor,
		concurrency:            defaultConcurrency,
		pollInterval:           defaultPollInterval,
		maxConsecutiveFailures: defaultMaxConsecutiveFailures,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Run blocks until every worker stopped.
//
// It returns nil when ctx is canceled or, with exit-on-empty, when no work is left.
// It returns ErrTooManyFailures when the queue was unavailable the configured number of times
// in a row across all workers; the remaining workers are stopped in that case. Other handler
// errors are counted in Stats.Failed and the pool moves on to the next unit of work.
func (p *Pool) Run(ctx context.Context) (Stats, error) {
	p.info("worker pool started", "pool", p.name, "concurrency", p.concurrency, "exit_on_empty", p.exitOnEmpty)

	group, groupCtx := errgroup.WithContext(ctx)
	for worker := range p.concurrency {
		group.Go(func() error {
			return p.loop(groupCtx, worker)
		})
	}

	err := group.Wait()
	stats := Stats{Processed: p.processed.Load(), Failed: p.failed.Load()}

	if err != nil {
		p.logError("worker pool stopped", "pool", p.name, "processed", stats.Processed, "failed", stats.Failed, "error", err.Error())
		return stats, err
	}

	p.info("worker pool stopped", "pool", p.name, "processed", stats.Processed, "failed", stats.Failed)

	return stats, nil
}

func (p *Pool) loop(ctx context.Context, worker int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		processed, err := p.processor.ProcessNext(ctx)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil

		case err != nil && !errors.Is(err, queue.ErrQueueUnavailable):
			p.failed.Add(1)
			p.consecutiveFailures.Store(0)
			p.warn("worker iteration failed", "pool", p.name, "worker", worker, "error", err.Error())

			if !processed {
				p.sleep(ctx)
			}

		case err != nil:
			p.failed.Add(1)
			n := p.consecutiveFailures.Add(1)
			p.warn("queue unavailable", "pool", p.name, "worker", worker, "consecutive_failures", n, "error", err.Error())

			if n >= p.maxConsecutiveFailures {
				return fmt.Errorf("%w: %d in pool %s, last: %w", ErrTooManyFailures, n, p.name, err)
			}

			if !processed {
				p.sleep(ctx)
			}

		case processed:
			p.processed.Add(1)
			p.consecutiveFailures.Store(0)

		case p.exitOnEmpty:
			p.debug("no work left", "pool", p.name, "worker", worker)
			return nil

		default:
			p.sleep(ctx)
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Pool) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pool) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pool) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Pool) logError(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}

// Option configures a Pool.
type Option func(*Pool) error

// WithConcurrency sets the number of workers.
func WithConcurrency(n int) Option {
	return func(p *Pool) error {
		if n <= 0 {
			return fmt.Errorf("%w: concurrency must be positive", ErrInvalidOption)
		}
		p.concurrency = n
		return nil
	}
}

// WithPollInterval sets how long an idle or failing worker waits before the next attempt.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) error {
		if d < 0 {
			return fmt.Errorf("%w: poll interval must not be negative", ErrInvalidOption)
		}
		p.pollInterval = d
		return nil
	}
}

// WithExitOnEmpty makes workers stop instead of polling once no work is left.
func WithExitOnEmpty(exit bool) Option {
	return func(p *Pool) error {
		p.exitOnEmpty = exit
		return nil
	}
}

// WithMaxConsecutiveFailures sets after how many queue outages in a row the pool gives up.
func WithMaxConsecutiveFailures(n int) Option {
	return func(p *Pool) error {
		if n <= 0 {
			return fmt.Errorf("%w: max consecutive failures must be positive", ErrInvalidOption)
		}
		p.maxConsecutiveFailures = int64(n)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger queue.Logger) Option {
	return func(p *Pool) error {
		p.logger = logger
		return nil
	}
}
