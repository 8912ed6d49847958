package minimizemeteorology_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/artifact"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/features/minimizemeteorology"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store/memstore"
	"github.com/AntonStoeckl/stilt-pipeline-go/testutil/pipelinetest"
)

var errArchiveDown = errors.New("archive unreachable")

type minimizerFunc func(ctx context.Context, model string, env core.Envelope) ([]byte, error)

func (f minimizerFunc) Minimize(ctx context.Context, model string, env core.Envelope) ([]byte, error) {
	return f(ctx, model, env)
}

func okMinimizer(calls *int) minimizerFunc {
	return func(_ context.Context, model string, _ core.Envelope) ([]byte, error) {
		*calls++
		return []byte("cropped " + model), nil
	}
}

var failingMinimizer = minimizerFunc(func(_ context.Context, _ string, _ core.Envelope) ([]byte, error) {
	return nil, errArchiveDown
})

type fixture struct {
	clock     *pipelinetest.Clock
	store     *memstore.Store
	artifacts *artifact.FileStore
}

func setup(t *testing.T) fixture {
	t.Helper()

	clock := pipelinetest.NewClock(time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC))
	artifacts, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	return fixture{clock: clock, store: memstore.New(memstore.WithClock(clock.Now)), artifacts: artifacts}
}

func (f fixture) handler(t *testing.T, minimizer minimizemeteorology.Minimizer, opts ...minimizemeteorology.Option) *minimizemeteorology.Handler {
	t.Helper()

	opts = append([]minimizemeteorology.Option{
		minimizemeteorology.WithClaimant("test-worker"),
		minimizemeteorology.WithLease(time.Minute),
		minimizemeteorology.WithClock(f.clock.Now),
	}, opts...)

	h, err := minimizemeteorology.NewHandler(f.store, minimizer, f.artifacts, opts...)
	require.NoError(t, err)

	return h
}

func (f fixture) backlog(t *testing.T, name string) int64 {
	t.Helper()

	n, err := f.store.BacklogCount(context.Background(), name)
	require.NoError(t, err)

	return n
}

func Test_ProcessNext_Nothing_To_Claim(t *testing.T) {
	f := setup(t)
	calls := 0

	processed, err := f.handler(t, okMinimizer(&calls)).ProcessNext(context.Background())

	require.NoError(t, err)
	assert.False(t, processed)
	assert.Zero(t, calls)
}

func Test_ProcessNext_Minimizes_Scene(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := pipelinetest.SeedScene(t, f.store, 3)
	calls := 0

	processed, err := f.handler(t, okMinimizer(&calls)).ProcessNext(ctx)

	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, calls)

	scene, _ := f.store.Scene(seeded.Scene.ID)
	assert.Equal(t, core.SceneStateMeteorologyReady, scene.State)

	aggregates := f.store.Aggregates()
	require.Len(t, aggregates, 1)
	assert.Equal(t, seeded.Scene.ID, aggregates[0].SceneID)
	assert.Equal(t, core.MeteorologyArtifactKey(seeded.Scene.ID), aggregates[0].ArtifactKey)
	assert.True(t, aggregates[0].Spatial.Contains(pipelinetest.Config().Footprint.Extent))

	data, err := f.artifacts.Get(ctx, aggregates[0].ArtifactKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("cropped hrrr"), data)

	assert.Zero(t, f.backlog(t, core.SceneCreatedEventName))
	assert.Equal(t, int64(1), f.backlog(t, core.MeteorologyMinimizedEventName))
}

func Test_ProcessNext_Failure_Leaves_Event_Claimed_Until_Lease_Expires(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := pipelinetest.SeedScene(t, f.store, 1)
	calls := 0

	processed, err := f.handler(t, failingMinimizer).ProcessNext(ctx)

	assert.True(t, processed)
	assert.ErrorIs(t, err, errArchiveDown)

	scene, _ := f.store.Scene(seeded.Scene.ID)
	assert.Equal(t, core.SceneStateCreated, scene.State)
	assert.Empty(t, f.store.Aggregates())
	assert.Equal(t, int64(1), f.backlog(t, core.SceneCreatedEventName))

	retrying := f.handler(t, okMinimizer(&calls), minimizemeteorology.WithClaimant("other-worker"))

	processed, err = retrying.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "event must stay invisible while the lease holds")

	f.clock.Advance(2 * time.Minute)

	processed, err = retrying.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	scene, _ = f.store.Scene(seeded.Scene.ID)
	assert.Equal(t, core.SceneStateMeteorologyReady, scene.State)
}

func Test_ProcessNext_Fails_Scene_After_Max_Attempts(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := pipelinetest.SeedScene(t, f.store, 1)
	h := f.handler(t, failingMinimizer, minimizemeteorology.WithMaxAttempts(2))

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := h.ProcessNext(ctx)
		require.ErrorIs(t, err, errArchiveDown)
		f.clock.Advance(2 * time.Minute)
	}

	processed, err := h.ProcessNext(ctx)

	require.NoError(t, err)
	assert.True(t, processed)

	scene, _ := f.store.Scene(seeded.Scene.ID)
	assert.Equal(t, core.SceneStateFailed, scene.State)
	assert.Equal(t, 2, scene.Attempts)
	assert.NotEmpty(t, scene.FailureReason)
	assert.Zero(t, f.backlog(t, core.SceneCreatedEventName))
}

func Test_ProcessNext_Redelivered_Event_Has_No_Further_Effect(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := pipelinetest.SeedScene(t, f.store, 2)
	pipelinetest.AppendEvent(t, f.store, core.BuildSceneCreated(seeded.Scene.ID, pipelinetest.RunTime))
	calls := 0
	h := f.handler(t, okMinimizer(&calls))

	for i := 0; i < 2; i++ {
		processed, err := h.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	assert.Equal(t, 1, calls)
	assert.Len(t, f.store.Aggregates(), 1)
	assert.Zero(t, f.backlog(t, core.SceneCreatedEventName))
	assert.Equal(t, int64(1), f.backlog(t, core.MeteorologyMinimizedEventName))
}

func Test_NewHandler_Rejects_Invalid_Options(t *testing.T) {
	f := setup(t)

	_, err := minimizemeteorology.NewHandler(f.store, failingMinimizer, f.artifacts, minimizemeteorology.WithLease(0))
	assert.ErrorIs(t, err, minimizemeteorology.ErrInvalidOption)

	_, err = minimizemeteorology.NewHandler(f.store, failingMinimizer, f.artifacts, minimizemeteorology.WithMaxAttempts(0))
	assert.ErrorIs(t, err, minimizemeteorology.ErrInvalidOption)
}
