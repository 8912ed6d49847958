// Package oteladapters provides OpenTelemetry implementations of the queue observability interfaces:
// a MetricsCollector backed by the metrics API, a TracingCollector backed by the tracing API,
// and contextual loggers backed by the slog bridge or the logs API.
package oteladapters
