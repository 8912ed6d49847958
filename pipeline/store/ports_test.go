package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
)

func Test_SimulationCounts(t *testing.T) {
	counts := store.SimulationCounts{
		core.SimulationStatePending:   1,
		core.SimulationStateRunning:   2,
		core.SimulationStateCompleted: 3,
		core.SimulationStateFailed:    1,
		core.SimulationStateExpired:   1,
	}

	assert.Equal(t, 8, counts.Total())
	assert.Equal(t, 3, counts.Unfinished())
	assert.Equal(t, 3, counts.Successful())
	assert.Equal(t, 0, store.SimulationCounts{}.Total())
}
