package pgstore_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store/pgstore"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
)

const (
	insertScenePattern      = `(?s)^INSERT INTO "scenes" \(.*"natural_key".*\) VALUES .* ON CONFLICT DO NOTHING`
	updateSceneStatePattern = `(?s)^UPDATE "scenes" SET .*"state"=.* WHERE .*"state" = .*`
	selectSceneLockPattern  = `(?s)^SELECT "id", "natural_key", .* FROM "scenes" WHERE .* FOR UPDATE`
	claimSimulationPattern  = `(?s)^WITH "?next"? AS \(SELECT "id" FROM "simulations" WHERE .*FOR UPDATE SKIP LOCKED\) UPDATE "simulations" SET .*"attempt_count"=attempt_count \+ 1.* RETURNING .*`
	sweepPattern            = `(?s)^UPDATE "simulations" SET .*CASE WHEN .*"attempt_count" >= .* WHERE .*"claimed_at" <= NOW\(\) - make_interval.* RETURNING .*`
	releasePattern          = `(?s)^UPDATE "simulations" SET .* WHERE .*"claimant" = .*"state" IN .*`
	countByScenePattern     = `(?s)^SELECT "state", COUNT\(\*\) AS "count" FROM "simulations" WHERE .* GROUP BY "state"`
	simulationWorker        = "worker-1"
)

var simulationColumns = []string{
	"id", "scene_id", "receptor_id", "config_id", "aggregate_id", "state", "attempt_count",
	"claimant", "claimed_at", "event_id", "artifact_refs", "last_error", "created_at", "updated_at",
}

func newMockedStore(t *testing.T) (*pgstore.Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := postgresengine.NewQueueFromSQLDB(db)
	require.NoError(t, err)

	s, err := pgstore.New(q)
	require.NoError(t, err)

	return s, mock
}

func simulationRow(s core.Simulation, state core.SimulationState, attempts int, claimedAt *time.Time) []driver.Value {
	return []driver.Value{
		s.ID.String(), s.SceneID.String(), s.ReceptorID.String(), s.ConfigID.String(), s.AggregateID.String(),
		string(state), attempts, simulationWorker, claimedAt, int64(7), []byte(`{}`), "", s.CreatedAt, s.UpdatedAt,
	}
}

func givenSimulation() core.Simulation {
	sceneID := core.NewID()
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	receptor := core.BuildReceptor(sceneID, -111.85, 40.77, 5, now)
	config := core.BuildSimulationConfig(sceneID, 1, core.ConfigParameters{NHours: -24})

	return core.BuildSimulation(receptor, config, core.NewID(), now)
}

func Test_New_Rejects_Nil_Queue(t *testing.T) {
	_, err := pgstore.New(nil)

	assert.ErrorIs(t, err, pgstore.ErrNilQueue)
}

func Test_Scene_Insert_Reports_Duplicate_Natural_Key(t *testing.T) {
	s, mock := newMockedStore(t)
	scene := core.BuildScene("natural-key", "hrrr", time.Now())

	mock.ExpectBegin()
	mock.ExpectExec(insertScenePattern).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertScenePattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var first, second bool
	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var insertErr error
		if first, insertErr = tx.Scenes().Insert(ctx, scene); insertErr != nil {
			return insertErr
		}
		second, insertErr = tx.Scenes().Insert(ctx, scene)
		return insertErr
	})

	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Scene_UpdateState_Reports_Conflict_And_Rolls_Back(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(updateSceneStatePattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Scenes().UpdateState(ctx, core.NewID(), core.SceneStateCreated, core.SceneStateMeteorologyReady)
	})

	assert.ErrorIs(t, err, store.ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Scene_GetForUpdate_Locks_The_Row(t *testing.T) {
	s, mock := newMockedStore(t)
	scene := core.BuildScene("natural-key", "hrrr", time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectQuery(selectSceneLockPattern).WillReturnRows(
		sqlmock.NewRows([]string{
			"id", "natural_key", "state", "meteorology_model", "attempts", "failure_reason", "created_at", "updated_at",
		}).AddRow(scene.ID.String(), scene.NaturalKey, string(scene.State), "hrrr", 0, "", scene.CreatedAt, scene.UpdatedAt),
	)
	mock.ExpectQuery(selectSceneLockPattern).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		loaded, err := tx.Scenes().GetForUpdate(ctx, scene.ID)
		require.NoError(t, err)
		assert.Equal(t, scene, loaded)

		_, err = tx.Scenes().GetForUpdate(ctx, core.NewID())
		assert.ErrorIs(t, err, store.ErrNotFound)

		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Simulation_ClaimNext(t *testing.T) {
	s, mock := newMockedStore(t)
	simulation := givenSimulation()
	claimedAt := time.Date(2022, 1, 1, 1, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(claimSimulationPattern).WillReturnRows(
		sqlmock.NewRows(simulationColumns).AddRow(simulationRow(simulation, core.SimulationStateClaimed, 1, &claimedAt)...),
	)
	mock.ExpectQuery(claimSimulationPattern).WillReturnRows(sqlmock.NewRows(simulationColumns))
	mock.ExpectCommit()

	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		claimed, ok, err := tx.Simulations().ClaimNext(ctx, simulationWorker)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, simulation.ID, claimed.ID)
		assert.Equal(t, core.SimulationStateClaimed, claimed.State)
		assert.Equal(t, 1, claimed.AttemptCount)
		assert.Equal(t, simulationWorker, claimed.Claimant)
		assert.Equal(t, int64(7), claimed.EventID)
		require.NotNil(t, claimed.ClaimedAt)
		assert.True(t, claimed.ArtifactRefs.IsEmpty())

		_, ok, err = tx.Simulations().ClaimNext(ctx, simulationWorker)
		assert.False(t, ok)
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Simulation_Release_By_Stale_Worker_Conflicts(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(releasePattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Simulations().Release(ctx, core.NewID(), "stale-worker", core.SimulationStatePending, "exit status 1")
	})

	assert.ErrorIs(t, err, store.ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Simulation_Release_To_Completed_Is_Rejected_Without_A_Write(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Simulations().Release(ctx, core.NewID(), "worker-a", core.SimulationStateCompleted, "")
	})

	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Simulation_SweepStale_Returns_Released_Rows(t *testing.T) {
	s, mock := newMockedStore(t)
	simulation := givenSimulation()

	mock.ExpectBegin()
	mock.ExpectQuery(sweepPattern).WillReturnRows(
		sqlmock.NewRows(simulationColumns).AddRow(simulationRow(simulation, core.SimulationStateExpired, 3, nil)...),
	)
	mock.ExpectCommit()

	var swept []core.Simulation
	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var sweepErr error
		swept, sweepErr = tx.Simulations().SweepStale(ctx, 2*time.Hour, 3)
		return sweepErr
	})

	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, core.SimulationStateExpired, swept[0].State)
	assert.Nil(t, swept[0].ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Simulation_CountByScene(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(countByScenePattern).WillReturnRows(
		sqlmock.NewRows([]string{"state", "count"}).AddRow("completed", 2).AddRow("running", 1),
	)
	mock.ExpectCommit()

	var counts store.SimulationCounts
	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var countErr error
		counts, countErr = tx.Simulations().CountByScene(ctx, core.NewID())
		return countErr
	})

	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total())
	assert.Equal(t, 1, counts.Unfinished())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Store_Surfaces_Driver_Errors_As_QueueUnavailable(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(countByScenePattern).WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	err := s.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, countErr := tx.Simulations().CountByScene(ctx, core.NewID())
		return countErr
	})

	assert.ErrorIs(t, err, queue.ErrQueueUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Migrate_Creates_Events_And_Domain_Tables(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "events"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "events_pending_idx"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	for _, table := range []string{"scenes", "receptors", "receptors_scene_idx", "simulation_configs",
		"meteorology_aggregates", "simulations", "simulations_pending_idx", "simulations_active_idx", "simulations_scene_idx"} {
		mock.ExpectExec(`CREATE (TABLE|INDEX) IF NOT EXISTS ` + table + ` `).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	assert.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
