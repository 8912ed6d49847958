package queue

import (
	"context"
	"time"
)

// Logger receives the engine's messages: executed SQL at debug level, every append,
// claim, ack, settle and lease reclaim at info, failed rollbacks at warn and database errors at error.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger gets the same messages as Logger along with the caller's context, so a
// claim or ack line can carry the trace of the stage iteration that issued it.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector records how long each queue operation took, counts its failures and
// keeps values such as the number of events a claim returned or the current backlog.
// Labels carry the operation and its status, plus the event name where one applies.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector receives queue metrics together with the operation's context.
// The engine checks for it with a type assertion on the configured MetricsCollector.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// TracingCollector opens one span per queue operation, named queue.<operation>
// (queue.claim, queue.ack, queue.settle and so on).
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// SpanContext is the open span of a queue operation, e.g. to add the claimed event ids.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}
