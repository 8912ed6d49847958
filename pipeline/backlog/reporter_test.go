package backlog_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/backlog"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store/memstore"
	"github.com/AntonStoeckl/stilt-pipeline-go/testutil/pipelinetest"
)

func Test_Snapshot_Counts_Unprocessed_Events_Including_Claimed_Ones(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	pipelinetest.SeedScene(t, s, 1)
	pipelinetest.SeedScene(t, s, 1)

	_, err := s.Claim(ctx, core.SceneCreatedEventName, 1, time.Minute, "worker")
	require.NoError(t, err)

	snapshot, err := backlog.NewReporter(s, nil).Snapshot(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(2), snapshot.Events[core.SceneCreatedEventName])
	assert.Equal(t, int64(0), snapshot.Events[core.MeteorologyMinimizedEventName])
	assert.Zero(t, snapshot.PendingSimulations)
}

func Test_Refresh_Publishes_Gauges(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seeded := pipelinetest.SeedScene(t, s, 2)
	pipelinetest.MarkMinimized(t, s, seeded)

	reporter := backlog.NewReporter(s, nil)
	registry := prometheus.NewRegistry()
	require.NoError(t, reporter.Register(registry))

	_, err := reporter.Refresh(ctx)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(registry, backlog.MetricEventBacklog)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	server := httptest.NewServer(backlog.Handler(registry))
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pipeline_event_backlog{event_name="MeteorologyMinimized"} 1`)
	assert.Contains(t, string(body), `pipeline_event_backlog{event_name="SceneCreated"} 1`)
	assert.Contains(t, string(body), "pipeline_pending_simulations 0")
}

func Test_Register_Twice_Fails(t *testing.T) {
	reporter := backlog.NewReporter(memstore.New(), nil)
	registry := prometheus.NewRegistry()

	require.NoError(t, reporter.Register(registry))
	assert.Error(t, reporter.Register(registry))
}

func Test_Run_Stops_With_Context(t *testing.T) {
	reporter := backlog.NewReporter(memstore.New(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.NoError(t, reporter.Run(ctx, 5*time.Millisecond))
	assert.ErrorIs(t, reporter.Run(context.Background(), 0), backlog.ErrInvalidInterval)
}
