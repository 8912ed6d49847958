package shell

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

const (
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 50 * time.Millisecond
	defaultJitterFactor = 0.3

	// RetriesMetric counts retried attempts by operation and error type.
	RetriesMetric = "pipeline_store_retries_total"

	// RetryDelayMetric records the backoff delay before each retry.
	RetryDelayMetric = "pipeline_store_retry_delay_seconds"
)

var (
	// ErrNilMetricsCollector is returned when a nil metrics collector is provided to WithMetrics.
	ErrNilMetricsCollector = errors.New("metrics collector must not be nil")

	// ErrEmptyOperation is returned when an empty operation name is provided to WithMetrics.
	ErrEmptyOperation = errors.New("operation must not be empty")

	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// RetryableFunc represents a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// RetryMetadata describes how a retried call went.
type RetryMetadata struct {
	Attempts      int
	TotalDelay    time.Duration
	LastErrorType string
}

type retryConfig struct {
	maxAttempts      int
	baseDelay        time.Duration
	jitterFactor     float64
	metricsCollector queue.MetricsCollector
	operation        string
}

// RetryWithExponentialBackoff runs fn until it succeeds, fails permanently, or maxAttempts is reached.
//
// Only errors carrying queue.ErrQueueUnavailable are retried. Since every store call runs in
// its own transaction, a failed attempt left nothing behind and can simply run again.
//
// Retry schedule (default): 0 ms, 50 ms, 100 ms, 200 ms, 400 ms (with 30% jitter)
func RetryWithExponentialBackoff(ctx context.Context, fn RetryableFunc, options ...RetryOption) (RetryMetadata, error) {
	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return RetryMetadata{}, err
		}
	}

	meta := RetryMetadata{LastErrorType: errorTypeNone}

	var lastErr error
	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := config.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec //math/rand is sufficient for jitter
			backoffDelay := delay + time.Duration(jitter)

			config.recordDelay(ctx, attempt, backoffDelay)

			select {
			case <-time.After(backoffDelay):
			case <-ctx.Done():
				return meta, ctx.Err()
			}

			meta.TotalDelay += backoffDelay
		}

		meta.Attempts++
		lastErr = fn(ctx)
		meta.LastErrorType = ErrorType(lastErr)

		if lastErr == nil || !isRetryableError(lastErr) {
			return meta, lastErr
		}

		if attempt < config.maxAttempts-1 {
			config.recordRetry(ctx, lastErr)
		}
	}

	return meta, lastErr
}

func isRetryableError(err error) bool {
	return errors.Is(err, queue.ErrQueueUnavailable) && !errors.Is(err, context.Canceled)
}

const (
	errorTypeNone             = "none"
	errorTypeQueueUnavailable = "queue_unavailable"
	errorTypeLeaseLost        = "lease_lost"
	errorTypeCanceled         = "context_canceled"
	errorTypeDeadline         = "context_deadline_exceeded"
	errorTypeOther            = "other"
)

// ErrorType classifies err for metric labels and log attributes.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return errorTypeNone
	case errors.Is(err, context.Canceled):
		return errorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return errorTypeDeadline
	case errors.Is(err, queue.ErrLeaseLost):
		return errorTypeLeaseLost
	case errors.Is(err, queue.ErrQueueUnavailable):
		return errorTypeQueueUnavailable
	default:
		return errorTypeOther
	}
}

func (c *retryConfig) recordDelay(ctx context.Context, attempt int, delay time.Duration) {
	if c.metricsCollector == nil {
		return
	}

	labels := map[string]string{"operation": c.operation, "attempt_number": fmt.Sprintf("%d", attempt)}

	if contextual, ok := c.metricsCollector.(queue.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, RetryDelayMetric, delay, labels)
		return
	}

	c.metricsCollector.RecordDuration(RetryDelayMetric, delay, labels)
}

func (c *retryConfig) recordRetry(ctx context.Context, err error) {
	if c.metricsCollector == nil {
		return
	}

	labels := map[string]string{"operation": c.operation, "error_type": ErrorType(err)}

	if contextual, ok := c.metricsCollector.(queue.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, RetriesMetric, labels)
		return
	}

	c.metricsCollector.IncrementCounter(RetriesMetric, labels)
}

// RetryOption configures retry behavior using the functional options pattern.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		config.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		config.baseDelay = delay

		return nil
	}
}

// WithJitterFactor sets the jitter as a fraction of the backoff delay, between 0.0 and 1.0.
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		config.jitterFactor = factor

		return nil
	}
}

// WithMetrics records retries and backoff delays labeled with operation.
func WithMetrics(collector queue.MetricsCollector, operation string) RetryOption {
	return func(config *retryConfig) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		if operation == "" {
			return ErrEmptyOperation
		}

		config.metricsCollector = collector
		config.operation = operation

		return nil
	}
}
