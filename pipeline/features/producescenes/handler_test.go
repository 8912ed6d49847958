package producescenes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/features/producescenes"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store/memstore"
)

var fixedNow = time.Date(2022, 1, 1, 10, 42, 0, 0, time.UTC)

func loadFixture(t *testing.T) producescenes.Definition {
	t.Helper()

	definitions, err := producescenes.LoadDefinitions("testdata")
	require.NoError(t, err)
	require.Len(t, definitions, 1)

	return definitions[0]
}

func newHandler(t *testing.T, s *memstore.Store) producescenes.Handler {
	t.Helper()

	h, err := producescenes.NewHandler(s, producescenes.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	return h
}

func Test_LoadDefinitions_Reads_Yaml_Files_Only(t *testing.T) {
	d := loadFixture(t)

	assert.Equal(t, "hrrr", d.MeteorologyModel)
	assert.Equal(t, 5.0, d.ZAGL)
	require.NotNil(t, d.RunTime)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), d.RunTime.UTC())
	require.Len(t, d.Configs, 1)
	assert.Equal(t, -24, d.Configs[0].NHours)
	assert.Equal(t, 3600, d.Configs[0].TimeoutSeconds)
	assert.Equal(t, -114.0, d.Configs[0].Footprint.XMin)
	assert.Equal(t, "200", d.Configs[0].Options["numpar"])
}

func Test_ParseDefinition_Rejects_Unknown_Fields(t *testing.T) {
	_, err := producescenes.ParseDefinition([]byte("grid: {}\ncolour: blue\n"))

	assert.ErrorIs(t, err, producescenes.ErrInvalidDefinition)
}

func Test_Handle_Creates_Scene_Receptors_Configs_And_Event(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	result, err := newHandler(t, s).Handle(ctx, loadFixture(t))

	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 6, result.Receptors) // 3 x 2 grid
	assert.Equal(t, 1, result.Configs)

	scene, ok := s.Scene(result.SceneID)
	require.True(t, ok)
	assert.Equal(t, core.SceneStateCreated, scene.State)
	assert.Equal(t, "hrrr", scene.MeteorologyModel)

	backlog, err := s.BacklogCount(ctx, core.SceneCreatedEventName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backlog)
}

func Test_Handle_Same_Definition_Twice_Yields_One_Scene(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	h := newHandler(t, s)

	first, err := h.Handle(ctx, loadFixture(t))
	require.NoError(t, err)

	second, err := h.Handle(ctx, loadFixture(t))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.SceneID, second.SceneID)
	assert.Len(t, s.Scenes(), 1)

	backlog, err := s.BacklogCount(ctx, core.SceneCreatedEventName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backlog)
}

func Test_Handle_Defaults_Run_Time_To_Current_Hour(t *testing.T) {
	d := loadFixture(t)
	d.RunTime = nil

	resolved := d.Resolve(fixedNow)

	require.NotNil(t, resolved.RunTime)
	assert.Equal(t, time.Date(2022, 1, 1, 10, 0, 0, 0, time.UTC), *resolved.RunTime)

	keyA, err := resolved.NaturalKey()
	require.NoError(t, err)
	keyB, err := d.Resolve(fixedNow.Add(10 * time.Minute)).NaturalKey()
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)
}

func Test_Handle_Rejects_Invalid_Definition_Without_Writing(t *testing.T) {
	s := memstore.New()
	d := loadFixture(t)
	d.Configs = nil

	_, err := newHandler(t, s).Handle(context.Background(), d)

	assert.ErrorIs(t, err, producescenes.ErrInvalidDefinition)
	assert.Empty(t, s.Scenes())
}

func Test_HandleAll(t *testing.T) {
	s := memstore.New()
	a := loadFixture(t)
	b := loadFixture(t)
	b.ZAGL = 50

	results, err := newHandler(t, s).HandleAll(context.Background(), []producescenes.Definition{a, b, a})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Created)
	assert.True(t, results[1].Created)
	assert.False(t, results[2].Created)
	assert.Len(t, s.Scenes(), 2)
}
