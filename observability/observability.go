// Package observability builds the logger, tracer provider and stage collectors of a process.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/oteladapters"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/promadapters"
)

// ServiceName identifies pipeline processes in traces.
const ServiceName = "stilt-pipeline"

var (
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// NewLogger creates a JSON or text slog.Logger writing to w.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Join(ErrInvalidLogLevel, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogFormat, format)
	}
}

// TracingConfig configures NewTracerProvider.
type TracingConfig struct {
	Environment string
	// Endpoint is the OTLP gRPC collector address. Without it spans are recorded but not exported.
	Endpoint string
	Insecure bool
}

// NewTracerProvider creates a tracer provider exporting over OTLP gRPC in batches and installs it
// as the global provider together with the W3C trace context propagator.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}

		exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown flushes pending spans, waiting at most five seconds.
func Shutdown(tp *sdktrace.TracerProvider) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// Stage returns the collectors a stage handler reports to: logger, Prometheus metrics on
// registerer, and spans from tp. Registerer and tp may be nil.
func Stage(logger *slog.Logger, registerer prometheus.Registerer, tp *sdktrace.TracerProvider) shell.Observability {
	var o shell.Observability

	if logger != nil {
		o.Logger = logger
	}

	if registerer != nil {
		o.Metrics = promadapters.NewMetricsCollector(registerer)
	}

	if tp != nil {
		o.Tracing = oteladapters.NewTracingCollector(tp.Tracer(ServiceName))
	}

	return o
}
