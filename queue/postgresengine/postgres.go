package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine/internal/adapters"
)

const (
	defaultEventTableName        = "events"
	logMsgBuildQueryFailed       = "failed to build query"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgDBExecFailed           = "database execution failed"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgRowsAffectedFailed     = "failed to get rows affected count"
	logMsgBeginTxFailed          = "failed to begin transaction"
	logMsgCommitFailed           = "failed to commit transaction"
	logMsgRollbackFailed         = "failed to roll back transaction"
	logMsgLeaseLost              = "lease lost on ack"
	logMsgSQLExecuted            = "executed sql for: "
	logMsgOperation              = "queue operation: "
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrEventName             = "event_name"
	logAttrEventID               = "event_id"
	logAttrEventCount            = "event_count"
	logAttrClaimant              = "claimant"
	logAttrDurationMS            = "duration_ms"
	logAttrRowsAffected          = "rows_affected"
	logActionAppend              = "append"
	logActionClaim               = "claim"
	logActionAck                 = "ack"
	logActionSettle              = "settle"
	logActionReclaim             = "reclaim"
	logActionBacklog             = "backlog"
	colID                        = "id"
	colName                      = "name"
	colPayload                   = "payload"
	colCreatedAt                 = "created_at"
	colClaimedAt                 = "claimed_at"
	colClaimant                  = "claimant"
	colLeaseExpiresAt            = "lease_expires_at"
	colDeliveryCount             = "delivery_count"
	colProcessedAt               = "processed_at"
	cteNext                      = "next"
	dialectPostgres              = "postgres"
	sqlNow                       = "NOW()"
	sqlLeaseExpiry               = "NOW() + make_interval(secs => ?::double precision)"
	sqlIncrementDeliveryCount    = colDeliveryCount + " + 1"
	castJsonb                    = "?::jsonb"
	aliasCount                   = "count"
	errorTypeBuildQuery          = "build_query"
	errorTypeDatabaseQuery       = "database_query"
	errorTypeDatabaseExec        = "database_exec"
	errorTypeRowScan             = "row_scan"
	errorTypeLeaseLost           = "lease_lost"
	errorTypeNotFound            = "not_found"
	errorTypeTransaction         = "transaction"
)

// Queue is the PostgreSQL implementation of the transactional job queue.
type Queue struct {
	db               adapters.DBAdapter
	dialect          goqu.DialectWrapper
	eventTableName   string
	logger           queue.Logger
	contextualLogger queue.ContextualLogger
	metricsCollector queue.MetricsCollector
	tracingCollector queue.TracingCollector
}

// NewQueueFromPGXPool creates a new Queue using a pgx Pool with optional configuration.
func NewQueueFromPGXPool(db *pgxpool.Pool, options ...Option) (*Queue, error) {
	if db == nil {
		return nil, queue.ErrNilDatabaseConnection
	}

	return newQueue(adapters.NewPGXAdapter(db), options)
}

// NewQueueFromSQLDB creates a new Queue using a sql.DB with optional configuration.
func NewQueueFromSQLDB(db *sql.DB, options ...Option) (*Queue, error) {
	if db == nil {
		return nil, queue.ErrNilDatabaseConnection
	}

	return newQueue(adapters.NewSQLAdapter(db), options)
}

// NewQueueFromSQLX creates a new Queue using a sqlx.DB with optional configuration.
func NewQueueFromSQLX(db *sqlx.DB, options ...Option) (*Queue, error) {
	if db == nil {
		return nil, queue.ErrNilDatabaseConnection
	}

	return newQueue(adapters.NewSQLXAdapter(db), options)
}

func newQueue(db adapters.DBAdapter, options []Option) (*Queue, error) {
	q := &Queue{
		db:             db,
		dialect:        goqu.Dialect(dialectPostgres),
		eventTableName: defaultEventTableName,
	}

	for _, option := range options {
		if err := option(q); err != nil {
			return nil, err
		}
	}

	return q, nil
}

// EventTableName returns the name of the table the queue reads and writes.
func (q *Queue) EventTableName() string {
	return q.eventTableName
}

// Ping verifies that the database is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.db.Ping(ctx); err != nil {
		return errors.Join(queue.ErrQueueUnavailable, err)
	}

	return nil
}

// Migrate creates the events table and its pending index if they do not exist.
func (q *Queue) Migrate(ctx context.Context) error {
	for _, stmt := range eventTableDDL(q.eventTableName) {
		if _, err := q.db.Exec(ctx, stmt); err != nil {
			q.logError(ctx, logMsgDBExecFailed, err, logAttrQuery, stmt)
			return errors.Join(queue.ErrQueueUnavailable, err)
		}
	}

	return nil
}

// Claim atomically selects up to batchSize pending events with the given name,
// marks them claimed by claimant with a lease of the given duration, and returns them.
//
// An event is pending when it is unprocessed and either unclaimed or its lease expired.
// Rows locked by a concurrent claim are skipped, so no two callers ever receive the same event.
// No ordering is guaranteed.
func (q *Queue) Claim(
	ctx context.Context,
	name string,
	batchSize int,
	lease time.Duration,
	claimant string,
) (queue.ClaimedEvents, error) {

	switch {
	case name == "":
		return nil, queue.ErrEmptyEventName
	case batchSize < 1:
		return nil, queue.ErrInvalidBatchSize
	case lease <= 0:
		return nil, queue.ErrInvalidLeaseDuration
	case claimant == "":
		return nil, queue.ErrEmptyClaimant
	}

	observer, ctx := q.observe(ctx, operationClaim, map[string]string{spanAttrEventName: name})

	sqlQuery, args, buildErr := q.buildClaimQuery(name, batchSize, lease, claimant)
	if buildErr != nil {
		q.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrEventName, name)
		observer.failure(errorTypeBuildQuery)
		return nil, buildErr
	}

	start := time.Now()
	rows, queryErr := q.db.Query(ctx, sqlQuery, args...)
	if queryErr != nil {
		q.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		observer.failure(errorTypeDatabaseQuery)
		return nil, errors.Join(queue.ErrQueueUnavailable, queryErr)
	}
	defer q.closeRows(ctx, rows)

	claimed := make(queue.ClaimedEvents, 0, batchSize)
	for rows.Next() {
		var ev queue.ClaimedEvent
		if scanErr := rows.Scan(
			&ev.ID,
			&ev.Name,
			&ev.PayloadJSON,
			&ev.CreatedAt,
			&ev.ClaimedAt,
			&ev.Claimant,
			&ev.LeaseExpiresAt,
			&ev.DeliveryCount,
		); scanErr != nil {
			q.logError(ctx, logMsgScanRowFailed, scanErr, logAttrQuery, sqlQuery)
			observer.failure(errorTypeRowScan)
			return nil, errors.Join(queue.ErrQueueUnavailable, scanErr)
		}

		claimed = append(claimed, ev)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		q.logError(ctx, logMsgDBQueryFailed, rowsErr, logAttrQuery, sqlQuery)
		observer.failure(errorTypeDatabaseQuery)
		return nil, errors.Join(queue.ErrQueueUnavailable, rowsErr)
	}

	duration := time.Since(start)
	q.logQueryWithDuration(ctx, sqlQuery, logActionClaim, duration)
	q.logOperation(
		ctx,
		logActionClaim,
		logAttrEventName, name,
		logAttrClaimant, claimant,
		logAttrEventCount, len(claimed),
		logAttrDurationMS, toMilliseconds(duration),
	)
	observer.success(metricEventsClaimed, float64(len(claimed)), map[string]string{
		spanAttrEventCount: fmt.Sprintf("%d", len(claimed)),
	})

	return claimed, nil
}

// Ack marks a claimed event processed in its own transaction.
// Prefer Tx.Ack, which commits the acknowledgement together with the effects of processing.
func (q *Queue) Ack(ctx context.Context, id queue.EventID, claimant string) error {
	return q.Transact(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.Ack(ctx, id, claimant)
	})
}

// ReclaimExpired releases events whose lease expired without an acknowledgement,
// making them claimable again, and returns how many were released.
func (q *Queue) ReclaimExpired(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, queue.ErrEmptyEventName
	}

	observer, ctx := q.observe(ctx, operationReclaim, map[string]string{spanAttrEventName: name})

	sqlQuery, args, buildErr := q.buildReclaimQuery(name)
	if buildErr != nil {
		q.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrEventName, name)
		observer.failure(errorTypeBuildQuery)
		return 0, buildErr
	}

	start := time.Now()
	result, execErr := q.db.Exec(ctx, sqlQuery, args...)
	if execErr != nil {
		q.logError(ctx, logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)
		observer.failure(errorTypeDatabaseExec)
		return 0, errors.Join(queue.ErrQueueUnavailable, execErr)
	}

	reclaimed, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		q.logError(ctx, logMsgRowsAffectedFailed, rowsErr)
		observer.failure(errorTypeDatabaseExec)
		return 0, errors.Join(queue.ErrQueueUnavailable, rowsErr)
	}

	duration := time.Since(start)
	q.logQueryWithDuration(ctx, sqlQuery, logActionReclaim, duration)
	if reclaimed > 0 {
		q.logOperation(ctx, logActionReclaim, logAttrEventName, name, logAttrRowsAffected, reclaimed)
	}
	observer.success(metricEventsReclaimed, float64(reclaimed), map[string]string{
		spanAttrRowsAffected: fmt.Sprintf("%d", reclaimed),
	})

	return reclaimed, nil
}

// BacklogCount returns the number of events with the given name that lack a committed processed_at.
// It is a plain READ COMMITTED read, so uncommitted claims or acks are never visible.
func (q *Queue) BacklogCount(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, queue.ErrEmptyEventName
	}

	observer, ctx := q.observe(ctx, operationBacklog, map[string]string{spanAttrEventName: name})

	sqlQuery, args, buildErr := q.buildBacklogQuery(name)
	if buildErr != nil {
		q.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrEventName, name)
		observer.failure(errorTypeBuildQuery)
		return 0, buildErr
	}

	start := time.Now()
	rows, queryErr := q.db.Query(ctx, sqlQuery, args...)
	if queryErr != nil {
		q.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		observer.failure(errorTypeDatabaseQuery)
		return 0, errors.Join(queue.ErrQueueUnavailable, queryErr)
	}
	defer q.closeRows(ctx, rows)

	var count int64
	if rows.Next() {
		if scanErr := rows.Scan(&count); scanErr != nil {
			q.logError(ctx, logMsgScanRowFailed, scanErr, logAttrQuery, sqlQuery)
			observer.failure(errorTypeRowScan)
			return 0, errors.Join(queue.ErrQueueUnavailable, scanErr)
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		q.logError(ctx, logMsgDBQueryFailed, rowsErr, logAttrQuery, sqlQuery)
		observer.failure(errorTypeDatabaseQuery)
		return 0, errors.Join(queue.ErrQueueUnavailable, rowsErr)
	}

	q.logQueryWithDuration(ctx, sqlQuery, logActionBacklog, time.Since(start))
	observer.success(metricBacklog, float64(count), map[string]string{spanAttrEventCount: fmt.Sprintf("%d", count)})

	return count, nil
}

// closeRows closes the rows and logs a warning if that fails.
func (q *Queue) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		q.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}
