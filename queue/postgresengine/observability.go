package postgresengine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

const (
	operationClaim    = "claim"
	operationAppend   = "append"
	operationAck      = "ack"
	operationSettle   = "settle"
	operationReclaim  = "reclaim"
	operationBacklog  = "backlog"
	operationTransact = "transact"
	operationQuery    = "query"
	operationExec     = "exec"

	spanNamePrefix       = "queue."
	spanAttrOperation    = "operation"
	spanAttrEventName    = "event_name"
	spanAttrEventID      = "event_id"
	spanAttrEventCount   = "event_count"
	spanAttrRowsAffected = "rows_affected"
	spanAttrErrorType    = "error_type"
	spanAttrDurationMS   = "duration_ms"

	labelStatus = "status"

	metricOperationDuration = "queue_operation_duration_seconds"
	metricEventsClaimed     = "queue_events_claimed"
	metricEventsAppended    = "queue_events_appended"
	metricEventsAcked       = "queue_events_acked"
	metricEventsReclaimed   = "queue_events_reclaimed"
	metricBacklog           = "queue_backlog"
	metricDatabaseErrors    = "queue_database_errors_total"
	metricLeasesLost        = "queue_leases_lost_total"

	statusSuccess = "success"
	statusError   = "error"
)

// operationObserver bundles the tracing span and metrics of one queue operation.
type operationObserver struct {
	q         *Queue
	ctx       context.Context
	operation string
	eventName string
	span      queue.SpanContext
	start     time.Time
}

// observe starts tracing and timing for an operation.
func (q *Queue) observe(
	ctx context.Context,
	operation string,
	attrs map[string]string,
) (*operationObserver, context.Context) {

	observer := &operationObserver{
		q:         q,
		operation: operation,
		eventName: attrs[spanAttrEventName],
		start:     time.Now(),
	}

	if q.tracingCollector != nil {
		spanAttrs := map[string]string{spanAttrOperation: operation}
		for key, value := range attrs {
			spanAttrs[key] = value
		}

		ctx, observer.span = q.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, spanAttrs)
	}

	observer.ctx = ctx

	return observer, ctx
}

// success records the duration, an optional value metric, and closes the span.
func (o *operationObserver) success(valueMetric string, value float64, attrs map[string]string) {
	duration := time.Since(o.start)

	o.q.recordDuration(o.ctx, o.operation, statusSuccess, duration)
	if valueMetric != "" {
		o.q.recordValue(o.ctx, valueMetric, value, o.labels(statusSuccess))
	}

	o.finishSpan(statusSuccess, duration, attrs)
}

// failure records the duration and error metrics, and closes the span with the error type.
func (o *operationObserver) failure(errorType string) {
	duration := time.Since(o.start)

	o.q.recordDuration(o.ctx, o.operation, statusError, duration)
	o.q.recordErrorMetrics(o.ctx, o.operation, errorType)

	o.finishSpan(statusError, duration, map[string]string{spanAttrErrorType: errorType})
}

func (o *operationObserver) labels(status string) map[string]string {
	labels := map[string]string{spanAttrOperation: o.operation, labelStatus: status}
	if o.eventName != "" {
		labels[spanAttrEventName] = o.eventName
	}

	return labels
}

func (o *operationObserver) finishSpan(status string, duration time.Duration, attrs map[string]string) {
	if o.q.tracingCollector == nil || o.span == nil {
		return
	}

	finalAttrs := map[string]string{spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration))}
	for key, value := range attrs {
		finalAttrs[key] = value
	}

	o.span.SetStatus(status)
	o.q.tracingCollector.FinishSpan(o.span, status, finalAttrs)
}

// recordDuration records the operation duration if a metrics collector is configured.
func (q *Queue) recordDuration(ctx context.Context, operation, status string, duration time.Duration) {
	if q.metricsCollector == nil {
		return
	}

	labels := map[string]string{spanAttrOperation: operation, labelStatus: status}

	if contextual, ok := q.metricsCollector.(queue.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricOperationDuration, duration, labels)
		return
	}

	q.metricsCollector.RecordDuration(metricOperationDuration, duration, labels)
}

// recordValue records a value metric if a metrics collector is configured.
func (q *Queue) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if q.metricsCollector == nil {
		return
	}

	if contextual, ok := q.metricsCollector.(queue.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	q.metricsCollector.RecordValue(metric, value, labels)
}

// recordErrorMetrics counts a database error if a metrics collector is configured.
func (q *Queue) recordErrorMetrics(ctx context.Context, operation, errorType string) {
	q.incrementCounter(ctx, metricDatabaseErrors, map[string]string{
		spanAttrOperation: operation,
		labelStatus:       statusError,
		spanAttrErrorType: errorType,
	})
}

// recordLeaseLostMetrics counts an ack that found its lease taken over.
func (q *Queue) recordLeaseLostMetrics(ctx context.Context) {
	q.incrementCounter(ctx, metricLeasesLost, map[string]string{spanAttrOperation: operationAck})
}

func (q *Queue) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if q.metricsCollector == nil {
		return
	}

	if contextual, ok := q.metricsCollector.(queue.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	q.metricsCollector.IncrementCounter(metric, labels)
}

// logQueryWithDuration logs SQL statements with execution time at debug level.
func (q *Queue) logQueryWithDuration(ctx context.Context, sqlQuery, action string, duration time.Duration) {
	args := []any{logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery}

	if q.logger != nil {
		q.logger.Debug(logMsgSQLExecuted+action, args...)
	}

	if q.contextualLogger != nil {
		q.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, args...)
	}
}

// logOperation logs operational information at info level.
func (q *Queue) logOperation(ctx context.Context, action string, args ...any) {
	if q.logger != nil {
		q.logger.Info(logMsgOperation+action, args...)
	}

	if q.contextualLogger != nil {
		q.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logWarn logs non-critical issues at warn level.
func (q *Queue) logWarn(ctx context.Context, message string, args ...any) {
	if q.logger != nil {
		q.logger.Warn(message, args...)
	}

	if q.contextualLogger != nil {
		q.contextualLogger.WarnContext(ctx, message, args...)
	}
}

// logError logs error information at the error level.
func (q *Queue) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if q.logger != nil {
		q.logger.Error(message, allArgs...)
	}

	if q.contextualLogger != nil {
		q.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
