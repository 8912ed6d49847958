package observability_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/observability"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
)

func Test_NewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer

	logger, err := observability.NewLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("hello", "scene_id", "abc")
	assert.Contains(t, buf.String(), `"scene_id":"abc"`)

	buf.Reset()
	logger, err = observability.NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}

func Test_NewLogger_Rejects_Unknown_Values(t *testing.T) {
	_, err := observability.NewLogger(&bytes.Buffer{}, "loud", "json")
	assert.ErrorIs(t, err, observability.ErrInvalidLogLevel)

	_, err = observability.NewLogger(&bytes.Buffer{}, "info", "xml")
	assert.ErrorIs(t, err, observability.ErrInvalidLogFormat)
}

func Test_NewTracerProvider_Without_Endpoint(t *testing.T) {
	tp, err := observability.NewTracerProvider(context.Background(), observability.TracingConfig{Environment: "test"})
	require.NoError(t, err)
	defer func() { assert.NoError(t, observability.Shutdown(tp)) }()

	_, span := tp.Tracer("test").Start(context.Background(), "unit")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func Test_Stage_Wires_Collectors(t *testing.T) {
	var buf bytes.Buffer
	logger, err := observability.NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	tp, err := observability.NewTracerProvider(context.Background(), observability.TracingConfig{})
	require.NoError(t, err)
	defer func() { _ = observability.Shutdown(tp) }()

	registry := prometheus.NewRegistry()
	o := observability.Stage(logger, registry, tp)

	_, obs := o.Start(context.Background(), "Test")
	obs.Succeed(shell.StatusSuccess)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, shell.StageCallsMetric)
	assert.Contains(t, buf.String(), shell.LogMsgStageCompleted)

	empty := observability.Stage(nil, nil, nil)
	assert.Nil(t, empty.Metrics)
	assert.Nil(t, empty.Tracing)
}
