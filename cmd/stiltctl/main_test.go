package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/worker"
)

func Test_Run_Without_Command_Fails(t *testing.T) {
	assert.Equal(t, exitFailure, run(nil))
}

func Test_Run_With_Invalid_Configuration_Fails(t *testing.T) {
	t.Setenv("STILT_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "")

	assert.Equal(t, exitFailure, run([]string{"backlog"}))
}

func Test_Run_With_Unknown_Command_Fails_Before_Connecting(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://nobody@127.0.0.1:1/none")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("LOG_LEVEL", "error")

	assert.Equal(t, exitFailure, run([]string{"frobnicate"}))
}

func Test_ProcessorSet_Gives_Each_Concurrent_Call_Its_Own_Processor(t *testing.T) {
	const workers = 4

	var inUse sync.Map
	var overlaps atomic.Int64
	next := 0

	set, err := newProcessorSet(workers, func() (worker.Processor, error) {
		id := next
		next++
		return worker.ProcessorFunc(func(context.Context) (bool, error) {
			if _, busy := inUse.LoadOrStore(id, true); busy {
				overlaps.Add(1)
			}
			defer inUse.Delete(id)
			return true, nil
		}), nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = set.ProcessNext(context.Background())
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
	assert.Len(t, set, workers)
}
