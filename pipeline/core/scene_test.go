package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

func Test_Scene_Lifecycle(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	scene := core.BuildScene("key", "hrrr", now)

	assert.Equal(t, core.SceneStateCreated, scene.State)

	scene, err := scene.TransitionTo(core.SceneStateMeteorologyReady, now)
	require.NoError(t, err)
	scene, err = scene.TransitionTo(core.SceneStateSimulationsGenerated, now)
	require.NoError(t, err)
	scene, err = scene.TransitionTo(core.SceneStateCompleted, now)
	require.NoError(t, err)

	assert.True(t, scene.State.IsTerminal())
}

func Test_Scene_Rejects_Skipping_Or_Leaving_Terminal_States(t *testing.T) {
	tests := []struct {
		from core.SceneState
		to   core.SceneState
	}{
		{core.SceneStateCreated, core.SceneStateSimulationsGenerated},
		{core.SceneStateCreated, core.SceneStateCompleted},
		{core.SceneStateCompleted, core.SceneStateFailed},
		{core.SceneStateFailed, core.SceneStateCreated},
		{core.SceneStateSimulationsGenerated, core.SceneStateFailed},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			scene := core.Scene{State: tc.from}

			_, err := scene.TransitionTo(tc.to, time.Now())

			assert.ErrorIs(t, err, core.ErrInvalidTransition)
		})
	}
}

func Test_Simulation_StateAfterFailure(t *testing.T) {
	assert.Equal(t, core.SimulationStatePending, core.StateAfterFailure(1, 3, core.SimulationStateFailed))
	assert.Equal(t, core.SimulationStateFailed, core.StateAfterFailure(3, 3, core.SimulationStateFailed))
	assert.Equal(t, core.SimulationStateExpired, core.StateAfterFailure(4, 3, core.SimulationStateExpired))
}

func Test_Simulation_Terminal_States_Cannot_Be_Left(t *testing.T) {
	for _, terminal := range []core.SimulationState{
		core.SimulationStateCompleted, core.SimulationStateFailed, core.SimulationStateExpired,
	} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.CanTransitionTo(core.SimulationStatePending))
		assert.False(t, terminal.CanTransitionTo(core.SimulationStateClaimed))
	}

	assert.False(t, core.SimulationStatePending.CanTransitionTo(core.SimulationStateRunning))
	assert.True(t, core.SimulationStateRunning.IsActive())
}

func Test_Grid_Points_Are_Inclusive_And_X_Major(t *testing.T) {
	grid := core.Grid{XMin: 0, XMax: 0.2, XRes: 0.1, YMin: 0, YMax: 0.1, YRes: 0.1}
	require.NoError(t, grid.Validate())

	points := grid.Points()

	assert.Equal(t, []core.Point{
		{X: 0, Y: 0}, {X: 0, Y: 0.1},
		{X: 0.1, Y: 0}, {X: 0.1, Y: 0.1},
		{X: 0.2, Y: 0}, {X: 0.2, Y: 0.1},
	}, points)
}

func Test_Grid_Validate(t *testing.T) {
	assert.ErrorIs(t, core.Grid{XMin: 0, XMax: 1, XRes: 0, YMin: 0, YMax: 1, YRes: 1}.Validate(), core.ErrInvalidGrid)
	assert.ErrorIs(t, core.Grid{XMin: 1, XMax: 0, XRes: 1, YMin: 0, YMax: 1, YRes: 1}.Validate(), core.ErrInvalidGrid)
}

func Test_Artifact_Keys(t *testing.T) {
	id := core.NewID()

	assert.Equal(t, "by-scene-id/"+id.String()+"/meteorology.arl", core.MeteorologyArtifactKey(id))
	assert.Equal(t, "by-simulation-id/"+id.String()+"/trajectories.rds", core.TrajectoriesArtifactKey(id))
	assert.Equal(t, "by-simulation-id/"+id.String()+"/footprint.nc", core.FootprintArtifactKey(id))
}
