package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

// TracingCollector implements queue.TracingCollector using the OpenTelemetry tracing API.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a collector that starts spans on the given tracer.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan starts a span as a child of any span found in ctx.
func (t *TracingCollector) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, queue.SpanContext) {
	spanCtx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))

	return spanCtx, &SpanContext{span: span}
}

// FinishSpan sets the final attributes and status and ends the span.
func (t *TracingCollector) FinishSpan(spanCtx queue.SpanContext, status string, attrs map[string]string) {
	otelSpan, ok := spanCtx.(*SpanContext)
	if !ok {
		return
	}

	otelSpan.span.SetAttributes(toAttributes(attrs)...)
	otelSpan.SetStatus(status)
	otelSpan.span.End()
}

var _ queue.TracingCollector = (*TracingCollector)(nil)

// SpanContext wraps an OpenTelemetry span.
type SpanContext struct {
	span trace.Span
}

// SetStatus maps queue status strings to OpenTelemetry status codes.
func (s *SpanContext) SetStatus(status string) {
	switch status {
	case "success":
		s.span.SetStatus(codes.Ok, "")
	case "error":
		s.span.SetStatus(codes.Error, "operation failed")
	default:
		s.span.SetAttributes(attribute.String("status", status))
	}
}

// AddAttribute adds a string attribute to the span.
func (s *SpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

var _ queue.SpanContext = (*SpanContext)(nil)
