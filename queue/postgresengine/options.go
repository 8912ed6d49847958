package postgresengine

import (
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

// Option defines a functional option for configuring the Queue.
type Option func(*Queue) error

// WithTableName sets the events table name for the Queue.
func WithTableName(tableName string) Option {
	return func(q *Queue) error {
		if tableName == "" {
			return queue.ErrEmptyEventsTableName
		}

		q.eventTableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the Queue.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: claimed/appended/acked events with counts and durations (production-safe)
// Warn level: lost leases and cleanup failures
// Error level: failures that abort an operation.
func WithLogger(logger queue.Logger) Option {
	return func(q *Queue) error {
		q.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, which correlates log records with the active trace.
func WithContextualLogger(logger queue.ContextualLogger) Option {
	return func(q *Queue) error {
		q.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Queue.
// It receives operation durations, claimed/appended/acked/reclaimed counts, backlog values,
// lost leases, and database errors.
func WithMetrics(collector queue.MetricsCollector) Option {
	return func(q *Queue) error {
		q.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Queue, which receives one span per operation.
func WithTracing(collector queue.TracingCollector) Option {
	return func(q *Queue) error {
		q.tracingCollector = collector
		return nil
	}
}
