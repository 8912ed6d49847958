package shell

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

const (
	// StageDurationMetric tracks how long one unit of work took, by stage and outcome.
	StageDurationMetric = "pipeline_stage_duration_seconds"
	// StageCallsMetric counts processed units of work, by stage and outcome.
	StageCallsMetric = "pipeline_stage_calls_total"

	// StatusSuccess indicates the unit changed state as intended.
	StatusSuccess = "success"
	// StatusIdempotent indicates a redelivery that needed no state change.
	StatusIdempotent = "idempotent"
	// StatusFailed indicates the unit reached a terminal failure state.
	StatusFailed = "failed"
	// StatusRetry indicates the unit failed and was released for another attempt.
	StatusRetry = "retry"
	// StatusError indicates the stage itself returned an error.
	StatusError = "error"
	// StatusCanceled indicates the worker was asked to stop mid-unit.
	StatusCanceled = "canceled"
	// StatusTimeout indicates the stage's deadline passed.
	StatusTimeout = "timeout"

	LogMsgStageStarted   = "stage started"
	LogMsgStageCompleted = "stage completed"
	LogMsgStageFailed    = "stage failed"

	LogAttrStage        = "stage"
	LogAttrStatus       = "status"
	LogAttrDurationMS   = "duration_ms"
	LogAttrError        = "error"
	LogAttrSceneID      = "scene_id"
	LogAttrSimulationID = "simulation_id"
	LogAttrEventID      = "event_id"
	LogAttrAttempt      = "attempt"

	// SpanNameStageProcess is the span wrapping one unit of work.
	SpanNameStageProcess = "pipeline.stage.process"
)

// Observability bundles the optional collectors a stage reports to. Any field may be nil.
type Observability struct {
	Logger           queue.Logger
	ContextualLogger queue.ContextualLogger
	Metrics          queue.MetricsCollector
	Tracing          queue.TracingCollector
}

// Observation is one unit of work in flight.
type Observation struct {
	o       Observability
	ctx     context.Context
	stage   string
	started time.Time
	span    queue.SpanContext
	attrs   []any
}

// Start opens a span and logs the start of a unit of work.
// The returned context carries the span and should be used for the unit's calls.
func (o Observability) Start(ctx context.Context, stage string) (context.Context, *Observation) {
	obs := &Observation{o: o, stage: stage, started: time.Now()}

	if o.Tracing != nil {
		ctx, obs.span = o.Tracing.StartSpan(ctx, SpanNameStageProcess, map[string]string{LogAttrStage: stage})
	}

	obs.ctx = ctx
	o.debug(ctx, LogMsgStageStarted, LogAttrStage, stage)

	return ctx, obs
}

// With adds key/value attributes to the unit's final log line and span.
func (obs *Observation) With(args ...any) {
	obs.attrs = append(obs.attrs, args...)

	if obs.span == nil {
		return
	}

	for i := 0; i+1 < len(args); i += 2 {
		obs.span.AddAttribute(fmt.Sprint(args[i]), fmt.Sprint(args[i+1]))
	}
}

// Succeed records a finished unit with the given status.
func (obs *Observation) Succeed(status string) {
	duration := time.Since(obs.started)
	obs.record(status, duration, nil)

	args := append([]any{LogAttrStage, obs.stage, LogAttrStatus, status, LogAttrDurationMS, ToMilliseconds(duration)}, obs.attrs...)
	if status == StatusFailed || status == StatusRetry {
		obs.o.warn(obs.ctx, LogMsgStageCompleted, args...)
		return
	}

	obs.o.info(obs.ctx, LogMsgStageCompleted, args...)
}

// Fail records a unit that ended with err and returns err.
func (obs *Observation) Fail(err error) error {
	status := StatusError
	switch {
	case errors.Is(err, context.Canceled):
		status = StatusCanceled
	case errors.Is(err, context.DeadlineExceeded):
		status = StatusTimeout
	}

	duration := time.Since(obs.started)
	obs.record(status, duration, err)

	args := append([]any{LogAttrStage, obs.stage, LogAttrStatus, status, LogAttrError, err.Error()}, obs.attrs...)
	obs.o.logError(obs.ctx, LogMsgStageFailed, args...)

	return err
}

func (obs *Observation) record(status string, duration time.Duration, err error) {
	labels := map[string]string{LogAttrStage: obs.stage, LogAttrStatus: status}

	if m := obs.o.Metrics; m != nil {
		if contextual, ok := m.(queue.ContextualMetricsCollector); ok {
			contextual.RecordDurationContext(obs.ctx, StageDurationMetric, duration, labels)
			contextual.IncrementCounterContext(obs.ctx, StageCallsMetric, labels)
		} else {
			m.RecordDuration(StageDurationMetric, duration, labels)
			m.IncrementCounter(StageCallsMetric, labels)
		}
	}

	if obs.o.Tracing != nil && obs.span != nil {
		attrs := map[string]string{LogAttrDurationMS: fmt.Sprintf("%.2f", ToMilliseconds(duration))}
		if err != nil {
			attrs[LogAttrError] = err.Error()
		}
		obs.o.Tracing.FinishSpan(obs.span, status, attrs)
	}
}

func (o Observability) debug(ctx context.Context, msg string, args ...any) {
	if o.ContextualLogger != nil {
		o.ContextualLogger.DebugContext(ctx, msg, args...)
	} else if o.Logger != nil {
		o.Logger.Debug(msg, args...)
	}
}

func (o Observability) info(ctx context.Context, msg string, args ...any) {
	if o.ContextualLogger != nil {
		o.ContextualLogger.InfoContext(ctx, msg, args...)
	} else if o.Logger != nil {
		o.Logger.Info(msg, args...)
	}
}

func (o Observability) warn(ctx context.Context, msg string, args ...any) {
	if o.ContextualLogger != nil {
		o.ContextualLogger.WarnContext(ctx, msg, args...)
	} else if o.Logger != nil {
		o.Logger.Warn(msg, args...)
	}
}

func (o Observability) logError(ctx context.Context, msg string, args ...any) {
	if o.ContextualLogger != nil {
		o.ContextualLogger.ErrorContext(ctx, msg, args...)
	} else if o.Logger != nil {
		o.Logger.Error(msg, args...)
	}
}

// ToMilliseconds converts a time.Duration to float64 milliseconds.
func ToMilliseconds(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
