package pgstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store/pgstore"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
	"github.com/AntonStoeckl/stilt-pipeline-go/testutil/pgtest"
	"github.com/AntonStoeckl/stilt-pipeline-go/testutil/pipelinetest"
)

func givenLiveStore(t *testing.T) *pgstore.Store {
	t.Helper()

	pool := pgtest.PGXPool(t)
	q, err := postgresengine.NewQueueFromPGXPool(pool)
	require.NoError(t, err)

	s, err := pgstore.New(q)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	pgtest.Truncate(t, pool, "simulations", "meteorology_aggregates", "simulation_configs", "receptors", "scenes", q.EventTableName())

	return s
}

func givenPendingSimulations(t *testing.T, s *pgstore.Store, receptors int) pipelinetest.SeededScene {
	t.Helper()

	seeded := pipelinetest.SeedScene(t, s, receptors)
	aggregate := pipelinetest.MarkMinimized(t, s, seeded)

	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, receptor := range seeded.Receptors {
			sim := core.BuildSimulation(receptor, seeded.Configs[0], aggregate.ID, pipelinetest.RunTime)
			if _, err := tx.Simulations().InsertPending(ctx, sim); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	return seeded
}

func Test_Live_ClaimNext_Never_Hands_A_Simulation_To_Two_Workers(t *testing.T) {
	s := givenLiveStore(t)
	givenPendingSimulations(t, s, 30)

	const workers = 6

	var mu sync.Mutex
	claimed := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimant := "worker-" + string(rune('a'+w))

			for {
				var sim core.Simulation
				var ok bool
				err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
					var err error
					sim, ok, err = tx.Simulations().ClaimNext(ctx, claimant)
					return err
				})
				if !assert.NoError(t, err) || !ok {
					return
				}

				mu.Lock()
				claimed[sim.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 30)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "simulation %s claimed %d times", id, n)
	}
}

func Test_Live_Release_By_A_Stale_Claimant_Conflicts(t *testing.T) {
	s := givenLiveStore(t)
	givenPendingSimulations(t, s, 1)
	ctx := context.Background()

	var sim core.Simulation
	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sim, _, err = tx.Simulations().ClaimNext(ctx, "worker-a")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sim.AttemptCount)

	err = s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Simulations().Release(ctx, sim.ID, "worker-b", core.SimulationStatePending, "boom")
	})
	assert.True(t, errors.Is(err, store.ErrStateConflict), "got %v", err)

	err = s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Simulations().Release(ctx, sim.ID, "worker-a", core.SimulationStatePending, "boom")
	})
	require.NoError(t, err)

	var pending int64
	err = s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		pending, err = tx.Simulations().CountPending(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func Test_Live_SweepStale_Expires_Exhausted_Claims(t *testing.T) {
	s := givenLiveStore(t)
	givenPendingSimulations(t, s, 1)
	ctx := context.Background()

	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		_, _, err := tx.Simulations().ClaimNext(ctx, "worker-a")
		return err
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	var swept []core.Simulation
	err = s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		swept, err = tx.Simulations().SweepStale(ctx, time.Millisecond, 1)
		return err
	})
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, core.SimulationStateExpired, swept[0].State)
	assert.Equal(t, store.StaleClaimReason, swept[0].LastError)
}
