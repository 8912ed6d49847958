package shell_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/testutil/spy"
)

func Test_Observation_Succeed_Records_Metrics_Span_And_Log(t *testing.T) {
	logs := spy.NewLogHandler()
	metrics := spy.NewMetricsCollector()
	tracing := spy.NewTracingCollector()
	o := shell.Observability{Logger: logs.Logger(), Metrics: metrics, Tracing: tracing}

	_, obs := o.Start(context.Background(), "Stage")
	obs.With(shell.LogAttrSceneID, "s-1")
	obs.Succeed(shell.StatusSuccess)

	assert.True(t, metrics.HasCounter(shell.StageCallsMetric))
	assert.True(t, logs.HasMessage(slog.LevelInfo, shell.LogMsgStageCompleted))

	spans := tracing.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, shell.SpanNameStageProcess, spans[0].Name)
	assert.Equal(t, shell.StatusSuccess, spans[0].Status)
	assert.Equal(t, "s-1", spans[0].Attrs[shell.LogAttrSceneID])
}

func Test_Observation_Retry_Outcome_Logs_A_Warning(t *testing.T) {
	logs := spy.NewLogHandler()
	o := shell.Observability{Logger: logs.Logger()}

	_, obs := o.Start(context.Background(), "Stage")
	obs.Succeed(shell.StatusRetry)

	assert.True(t, logs.HasMessage(slog.LevelWarn, shell.LogMsgStageCompleted))
}

func Test_Observation_Fail_Classifies_Cancellation(t *testing.T) {
	tracing := spy.NewTracingCollector()
	logs := spy.NewLogHandler()
	o := shell.Observability{Logger: logs.Logger(), Tracing: tracing}

	_, obs := o.Start(context.Background(), "Stage")
	err := obs.Fail(errors.Join(errors.New("aborted"), context.Canceled))

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, tracing.Spans(), 1)
	assert.Equal(t, shell.StatusCanceled, tracing.Spans()[0].Status)
	assert.True(t, logs.HasMessage(slog.LevelError, shell.LogMsgStageFailed))
}

func Test_Observability_Without_Collectors_Is_Silent(t *testing.T) {
	_, obs := shell.Observability{}.Start(context.Background(), "Stage")

	assert.NotPanics(t, func() {
		obs.With("k", "v")
		obs.Succeed(shell.StatusIdempotent)
	})
}
