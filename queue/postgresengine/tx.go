package postgresengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine/internal/adapters"
)

// Rows is the result of Tx.Query.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// TxFunc is the body of a transaction. Returning an error rolls the transaction back.
type TxFunc func(ctx context.Context, tx *Tx) error

// Tx is an open transaction. Event appends and acknowledgements made through it commit
// atomically with any other statement executed through it.
type Tx struct {
	q  *Queue
	tx adapters.DBTx
}

// Transact runs fn inside a READ COMMITTED transaction.
// The transaction commits if fn returns nil and rolls back otherwise; fn's error is returned unchanged.
func (q *Queue) Transact(ctx context.Context, fn TxFunc) error {
	dbTx, beginErr := q.db.BeginTx(ctx)
	if beginErr != nil {
		q.logError(ctx, logMsgBeginTxFailed, beginErr)
		q.recordErrorMetrics(ctx, operationTransact, errorTypeTransaction)
		return errors.Join(queue.ErrQueueUnavailable, beginErr)
	}

	committed := false
	defer func() {
		if committed {
			return
		}

		// The caller's context may already be canceled, the rollback must still reach the server.
		rollbackErr := dbTx.Rollback(context.WithoutCancel(ctx))
		if rollbackErr != nil && !errors.Is(rollbackErr, adapters.ErrTxDone) {
			q.logWarn(ctx, logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}
	}()

	if err := fn(ctx, &Tx{q: q, tx: dbTx}); err != nil {
		return err
	}

	if commitErr := dbTx.Commit(ctx); commitErr != nil {
		q.logError(ctx, logMsgCommitFailed, commitErr)
		q.recordErrorMetrics(ctx, operationTransact, errorTypeTransaction)
		return errors.Join(queue.ErrQueueUnavailable, commitErr)
	}

	committed = true

	return nil
}

// Append inserts an event within the transaction and returns its id.
// The event becomes visible to claimants only when the transaction commits.
func (tx *Tx) Append(ctx context.Context, event queue.Event) (queue.EventID, error) {
	q := tx.q
	observer, ctx := q.observe(ctx, operationAppend, map[string]string{spanAttrEventName: event.Name})

	sqlQuery, args, buildErr := q.buildAppendQuery(event)
	if buildErr != nil {
		q.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrEventName, event.Name)
		observer.failure(errorTypeBuildQuery)
		return 0, buildErr
	}

	start := time.Now()
	rows, queryErr := tx.tx.Query(ctx, sqlQuery, args...)
	if queryErr != nil {
		q.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		observer.failure(errorTypeDatabaseQuery)
		return 0, errors.Join(queue.ErrQueueUnavailable, queryErr)
	}
	defer q.closeRows(ctx, rows)

	var id queue.EventID
	if rows.Next() {
		if scanErr := rows.Scan(&id); scanErr != nil {
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

	duration := time.Since(start)
	q.logQueryWithDuration(ctx, sqlQuery, logActionAppend, duration)
	q.logOperation(ctx, logActionAppend, logAttrEventName, event.Name, logAttrEventID, id)
	observer.success(metricEventsAppended, 1, map[string]string{spanAttrEventID: fmt.Sprintf("%d", id)})

	return id, nil
}

// Ack marks a claimed event processed within the transaction.
//
// Acking an event that this claimant already acked is a no-op.
// If the event is now held by another claimant, or was processed by one, ErrLeaseLost is returned
// and the caller must roll back: its work is a duplicate of work someone else owns.
func (tx *Tx) Ack(ctx context.Context, id queue.EventID, claimant string) error {
	if claimant == "" {
		return queue.ErrEmptyClaimant
	}

	q := tx.q
	observer, ctx := q.observe(ctx, operationAck, map[string]string{spanAttrEventID: fmt.Sprintf("%d", id)})

	sqlQuery, args, buildErr := q.buildAckQuery(id, claimant)
	if buildErr != nil {
		q.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrEventID, id)
		observer.failure(errorTypeBuildQuery)
		return buildErr
	}

	rowsAffected, execErr := tx.execRowsAffected(ctx, sqlQuery, args)
	if execErr != nil {
		observer.failure(errorTypeDatabaseExec)
		return execErr
	}

	if rowsAffected == 0 {
		if statusErr := tx.checkAlreadyAcked(ctx, id, claimant); statusErr != nil {
			switch {
			case errors.Is(statusErr, queue.ErrLeaseLost):
				q.logWarn(ctx, logMsgLeaseLost, logAttrEventID, id, logAttrClaimant, claimant)
				q.recordLeaseLostMetrics(ctx)
				observer.failure(errorTypeLeaseLost)
			case errors.Is(statusErr, queue.ErrEventNotFound):
				observer.failure(errorTypeNotFound)
			default:
				observer.failure(errorTypeDatabaseQuery)
			}

			return statusErr
		}
	}

	q.logOperation(ctx, logActionAck, logAttrEventID, id, logAttrClaimant, claimant)
	observer.success(metricEventsAcked, float64(rowsAffected), nil)

	return nil
}

// checkAlreadyAcked distinguishes an idempotent repeated ack from a lost lease.
func (tx *Tx) checkAlreadyAcked(ctx context.Context, id queue.EventID, claimant string) error {
	q := tx.q

	sqlQuery, args, buildErr := q.buildAckStatusQuery(id)
	if buildErr != nil {
		q.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrEventID, id)
		return buildErr
	}

	rows, queryErr := tx.tx.Query(ctx, sqlQuery, args...)
	if queryErr != nil {
		q.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return errors.Join(queue.ErrQueueUnavailable, queryErr)
	}
	defer q.closeRows(ctx, rows)

	if !rows.Next() {
		if rowsErr := rows.Err(); rowsErr != nil {
			return errors.Join(queue.ErrQueueUnavailable, rowsErr)
		}

		return queue.ErrEventNotFound
	}

	var holder *string
	var processedAt *time.Time
	if scanErr := rows.Scan(&holder, &processedAt); scanErr != nil {
		q.logError(ctx, logMsgScanRowFailed, scanErr, logAttrQuery, sqlQuery)
		return errors.Join(queue.ErrQueueUnavailable, scanErr)
	}

	if processedAt != nil && holder != nil && *holder == claimant {
		return nil
	}

	return queue.ErrLeaseLost
}

// Settle marks an event processed within the transaction without requiring a claim.
// It is used for events whose unit of work is tracked elsewhere and reached a terminal state.
// Settling an already processed event is a no-op.
func (tx *Tx) Settle(ctx context.Context, id queue.EventID) error {
	q := tx.q
	observer, ctx := q.observe(ctx, operationSettle, map[string]string{spanAttrEventID: fmt.Sprintf("%d", id)})

	sqlQuery, args, buildErr := q.buildSettleQuery(id)
	if buildErr != nil {
		q.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrEventID, id)
		observer.failure(errorTypeBuildQuery)
		return buildErr
	}

	rowsAffected, execErr := tx.execRowsAffected(ctx, sqlQuery, args)
	if execErr != nil {
		observer.failure(errorTypeDatabaseExec)
		return execErr
	}

	if rowsAffected > 0 {
		q.logOperation(ctx, logActionSettle, logAttrEventID, id)
	}
	observer.success(metricEventsAcked, float64(rowsAffected), nil)

	return nil
}

// Exec runs a statement within the transaction and returns the number of affected rows.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return tx.execRowsAffected(ctx, query, args)
}

// Query runs a query within the transaction. The caller must close the returned rows.
func (tx *Tx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	start := time.Now()

	rows, err := tx.tx.Query(ctx, query, args...)
	if err != nil {
		tx.q.logError(ctx, logMsgDBQueryFailed, err, logAttrQuery, query)
		tx.q.recordErrorMetrics(ctx, operationQuery, errorTypeDatabaseQuery)
		return nil, errors.Join(queue.ErrQueueUnavailable, err)
	}

	tx.q.logQueryWithDuration(ctx, query, operationQuery, time.Since(start))

	return rows, nil
}

func (tx *Tx) execRowsAffected(ctx context.Context, query string, args []any) (int64, error) {
	start := time.Now()

	result, execErr := tx.tx.Exec(ctx, query, args...)
	if execErr != nil {
		tx.q.logError(ctx, logMsgDBExecFailed, execErr, logAttrQuery, query)
		tx.q.recordErrorMetrics(ctx, operationExec, errorTypeDatabaseExec)
		return 0, errors.Join(queue.ErrQueueUnavailable, execErr)
	}

	rowsAffected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		tx.q.logError(ctx, logMsgRowsAffectedFailed, rowsErr)
		return 0, errors.Join(queue.ErrQueueUnavailable, rowsErr)
	}

	tx.q.logQueryWithDuration(ctx, query, operationExec, time.Since(start))

	return rowsAffected, nil
}
