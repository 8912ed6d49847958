package postgresengine_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
	. "github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
	"github.com/AntonStoeckl/stilt-pipeline-go/testutil/spy"
)

const (
	claimPattern       = `(?s)^WITH "?next"? AS \(SELECT "id" FROM "events" WHERE .* FOR UPDATE SKIP LOCKED\) UPDATE "events" SET .* FROM "next" WHERE .* RETURNING .*`
	appendPattern      = `(?s)^INSERT INTO "events" \("name", "payload"\) VALUES .* RETURNING "id"`
	ackPattern         = `(?s)^UPDATE "events" SET "processed_at"=NOW\(\) WHERE .*"claimant" = .*`
	ackStatusPattern   = `(?s)^SELECT "claimant", "processed_at" FROM "events" WHERE .*`
	settlePattern      = `(?s)^UPDATE "events" SET "processed_at"=NOW\(\) WHERE .*`
	reclaimPattern     = `(?s)^UPDATE "events" SET .*"claimant"=NULL.* WHERE .*"lease_expires_at" <= NOW\(\).*`
	backlogPattern     = `(?s)^SELECT COUNT\(\*\) AS "count" FROM "events" WHERE .*"processed_at" IS NULL.*`
	defaultTestLease   = 30 * time.Second
	defaultTestWorker  = "worker-1"
	otherTestWorker    = "worker-2"
	sceneCreatedName   = "SceneCreated"
)

func newMockedQueue(t *testing.T, options ...Option) (*Queue, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewQueueFromSQLDB(db, options...)
	require.NoError(t, err)

	return q, mock
}

func claimedRows(now time.Time, ids ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "payload", "created_at", "claimed_at", "claimant", "lease_expires_at", "delivery_count",
	})

	for _, id := range ids {
		rows.AddRow(id, sceneCreatedName, []byte(`{"scene_id":"s1"}`), now, now, defaultTestWorker, now.Add(defaultTestLease), 1)
	}

	return rows
}

func Test_NewQueue_Rejects_Invalid_Input(t *testing.T) {
	_, err := NewQueueFromSQLDB(nil)
	assert.ErrorIs(t, err, queue.ErrNilDatabaseConnection)

	_, err = NewQueueFromPGXPool(nil)
	assert.ErrorIs(t, err, queue.ErrNilDatabaseConnection)

	_, err = NewQueueFromSQLX(nil)
	assert.ErrorIs(t, err, queue.ErrNilDatabaseConnection)

	db, _, mockErr := sqlmock.New()
	require.NoError(t, mockErr)
	defer func() { _ = db.Close() }()

	_, err = NewQueueFromSQLDB(db, WithTableName(""))
	assert.ErrorIs(t, err, queue.ErrEmptyEventsTableName)

	q, err := NewQueueFromSQLDB(db, WithTableName("stage_events"))
	require.NoError(t, err)
	assert.Equal(t, "stage_events", q.EventTableName())
}

func Test_Claim_Returns_Claimed_Events(t *testing.T) {
	q, mock := newMockedQueue(t)
	now := time.Now().UTC()

	mock.ExpectQuery(claimPattern).WillReturnRows(claimedRows(now, 7, 9))

	claimed, err := q.Claim(context.Background(), sceneCreatedName, 2, defaultTestLease, defaultTestWorker)

	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, int64(7), claimed[0].ID)
	assert.Equal(t, int64(9), claimed[1].ID)
	assert.Equal(t, defaultTestWorker, claimed[0].Claimant)
	assert.Equal(t, 1, claimed[0].DeliveryCount)
	assert.JSONEq(t, `{"scene_id":"s1"}`, string(claimed[0].PayloadJSON))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Claim_Returns_Empty_When_Nothing_Is_Pending(t *testing.T) {
	q, mock := newMockedQueue(t)

	mock.ExpectQuery(claimPattern).WillReturnRows(claimedRows(time.Now()))

	claimed, err := q.Claim(context.Background(), sceneCreatedName, 1, defaultTestLease, defaultTestWorker)

	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func Test_Claim_Validates_Arguments(t *testing.T) {
	q, _ := newMockedQueue(t)
	ctx := context.Background()

	_, err := q.Claim(ctx, "", 1, defaultTestLease, defaultTestWorker)
	assert.ErrorIs(t, err, queue.ErrEmptyEventName)

	_, err = q.Claim(ctx, sceneCreatedName, 0, defaultTestLease, defaultTestWorker)
	assert.ErrorIs(t, err, queue.ErrInvalidBatchSize)

	_, err = q.Claim(ctx, sceneCreatedName, 1, 0, defaultTestWorker)
	assert.ErrorIs(t, err, queue.ErrInvalidLeaseDuration)

	_, err = q.Claim(ctx, sceneCreatedName, 1, defaultTestLease, "")
	assert.ErrorIs(t, err, queue.ErrEmptyClaimant)
}

func Test_Claim_Surfaces_Storage_Failure_As_QueueUnavailable(t *testing.T) {
	metrics := spy.NewMetricsCollector()
	q, mock := newMockedQueue(t, WithMetrics(metrics))

	mock.ExpectQuery(claimPattern).WillReturnError(errors.New("connection refused"))

	_, err := q.Claim(context.Background(), sceneCreatedName, 1, defaultTestLease, defaultTestWorker)

	assert.ErrorIs(t, err, queue.ErrQueueUnavailable)
	assert.True(t, metrics.HasCounter("queue_database_errors_total"))
}

func Test_Transact_Commits_Append_And_Ack_Together(t *testing.T) {
	q, mock := newMockedQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(appendPattern).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(ackPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := queue.BuildEvent("MeteorologyMinimized", []byte(`{"scene_id":"s1","aggregate_id":"a1"}`))
	require.NoError(t, err)

	var appendedID queue.EventID
	err = q.Transact(context.Background(), func(ctx context.Context, tx *Tx) error {
		id, appendErr := tx.Append(ctx, event)
		if appendErr != nil {
			return appendErr
		}
		appendedID = id

		return tx.Ack(ctx, 7, defaultTestWorker)
	})

	require.NoError(t, err)
	assert.Equal(t, queue.EventID(42), appendedID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Transact_Rolls_Back_When_Body_Fails(t *testing.T) {
	q, mock := newMockedQueue(t)
	bodyErr := errors.New("artifact upload failed")

	mock.ExpectBegin()
	mock.ExpectQuery(appendPattern).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectRollback()

	event, err := queue.BuildEvent(sceneCreatedName, []byte(`{}`))
	require.NoError(t, err)

	err = q.Transact(context.Background(), func(ctx context.Context, tx *Tx) error {
		if _, appendErr := tx.Append(ctx, event); appendErr != nil {
			return appendErr
		}

		return bodyErr
	})

	assert.ErrorIs(t, err, bodyErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Ack_Is_Idempotent_For_The_Same_Claimant(t *testing.T) {
	q, mock := newMockedQueue(t)

	mock.ExpectBegin()
	mock.ExpectExec(ackPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(ackStatusPattern).WillReturnRows(
		sqlmock.NewRows([]string{"claimant", "processed_at"}).AddRow(defaultTestWorker, time.Now()),
	)
	mock.ExpectCommit()

	err := q.Ack(context.Background(), 7, defaultTestWorker)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Ack_Reports_Lost_Lease_And_Rolls_Back(t *testing.T) {
	metrics := spy.NewMetricsCollector()
	logs := spy.NewLogHandler()
	q, mock := newMockedQueue(t, WithMetrics(metrics), WithLogger(logs.Logger()))

	mock.ExpectBegin()
	mock.ExpectExec(ackPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(ackStatusPattern).WillReturnRows(
		sqlmock.NewRows([]string{"claimant", "processed_at"}).AddRow(otherTestWorker, nil),
	)
	mock.ExpectRollback()

	err := q.Ack(context.Background(), 7, defaultTestWorker)

	assert.ErrorIs(t, err, queue.ErrLeaseLost)
	assert.True(t, metrics.HasCounter("queue_leases_lost_total"))
	assert.True(t, logs.HasMessage(slog.LevelWarn, "lease lost"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Ack_Reports_Unknown_Event(t *testing.T) {
	q, mock := newMockedQueue(t)

	mock.ExpectBegin()
	mock.ExpectExec(ackPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(ackStatusPattern).WillReturnRows(sqlmock.NewRows([]string{"claimant", "processed_at"}))
	mock.ExpectRollback()

	err := q.Ack(context.Background(), 404, defaultTestWorker)

	assert.ErrorIs(t, err, queue.ErrEventNotFound)
}

func Test_Settle_Marks_Event_Processed(t *testing.T) {
	q, mock := newMockedQueue(t)

	mock.ExpectBegin()
	mock.ExpectExec(settlePattern).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := q.Transact(context.Background(), func(ctx context.Context, tx *Tx) error {
		return tx.Settle(ctx, 11)
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_ReclaimExpired_Returns_Released_Count(t *testing.T) {
	q, mock := newMockedQueue(t)

	mock.ExpectExec(reclaimPattern).WillReturnResult(sqlmock.NewResult(0, 3))

	reclaimed, err := q.ReclaimExpired(context.Background(), sceneCreatedName)

	require.NoError(t, err)
	assert.Equal(t, int64(3), reclaimed)
}

func Test_BacklogCount_Counts_Unprocessed_Events(t *testing.T) {
	metrics := spy.NewMetricsCollector()
	tracing := spy.NewTracingCollector()
	q, mock := newMockedQueue(t, WithMetrics(metrics), WithTracing(tracing))

	mock.ExpectQuery(backlogPattern).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	count, err := q.BacklogCount(context.Background(), sceneCreatedName)

	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	value, ok := metrics.LastValue("queue_backlog")
	assert.True(t, ok)
	assert.Equal(t, float64(5), value)

	spans := tracing.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, "queue.backlog", spans[0].Name)
	assert.Equal(t, "success", spans[0].Status)
	assert.Equal(t, sceneCreatedName, spans[0].Attrs["event_name"])
}

func Test_Migrate_Creates_Table_And_Index(t *testing.T) {
	q, mock := newMockedQueue(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "events"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "events_pending_idx"`).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, q.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
