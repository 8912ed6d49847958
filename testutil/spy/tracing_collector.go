package spy

import (
	"context"
	"maps"
	"sync"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

// Span is a finished span captured by TracingCollector.
type Span struct {
	Name   string
	Status string
	Attrs  map[string]string
}

// TracingCollector captures spans for testing. It satisfies queue.TracingCollector.
type TracingCollector struct {
	mu    sync.Mutex
	spans []Span
}

type spanContext struct {
	name   string
	status string
	attrs  map[string]string
}

func (s *spanContext) SetStatus(status string) { s.status = status }

func (s *spanContext) AddAttribute(key, value string) { s.attrs[key] = value }

// NewTracingCollector creates an empty TracingCollector spy.
func NewTracingCollector() *TracingCollector {
	return &TracingCollector{}
}

func (s *TracingCollector) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, queue.SpanContext) {

	span := &spanContext{name: name, attrs: map[string]string{}}
	maps.Copy(span.attrs, attrs)

	return ctx, span
}

func (s *TracingCollector) FinishSpan(spanCtx queue.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*spanContext)
	if !ok {
		return
	}

	finalAttrs := maps.Clone(span.attrs)
	maps.Copy(finalAttrs, attrs)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans = append(s.spans, Span{Name: span.name, Status: status, Attrs: finalAttrs})
}

// Spans returns a copy of all finished spans.
func (s *TracingCollector) Spans() []Span {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Span(nil), s.spans...)
}
