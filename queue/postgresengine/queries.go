package postgresengine

import (
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

type (
	sqlQueryString = string
	sqlArgs        = []any
)

// pendingCondition matches events that are unprocessed and either unclaimed or past their lease.
func pendingCondition() exp.Expression {
	return goqu.And(
		goqu.C(colProcessedAt).IsNull(),
		goqu.Or(
			goqu.C(colClaimedAt).IsNull(),
			goqu.C(colLeaseExpiresAt).Lte(goqu.L(sqlNow)),
		),
	)
}

// buildClaimQuery builds the single-statement claim:
//
//	WITH next AS (SELECT id FROM events WHERE <pending> ORDER BY id LIMIT n FOR UPDATE SKIP LOCKED)
//	UPDATE events SET ... FROM next WHERE events.id = next.id RETURNING ...
func (q *Queue) buildClaimQuery(
	name string,
	batchSize int,
	lease time.Duration,
	claimant string,
) (sqlQueryString, sqlArgs, error) {

	table := goqu.T(q.eventTableName)
	next := goqu.T(cteNext)

	candidates := q.dialect.
		From(q.eventTableName).
		Select(colID).
		Where(goqu.C(colName).Eq(name), pendingCondition()).
		Order(goqu.C(colID).Asc()).
		Limit(uint(batchSize)).
		ForUpdate(exp.SkipLocked)

	return q.dialect.
		Update(q.eventTableName).
		Prepared(true).
		With(cteNext, candidates).
		Set(goqu.Record{
			colClaimedAt:      goqu.L(sqlNow),
			colClaimant:       claimant,
			colLeaseExpiresAt: goqu.L(sqlLeaseExpiry, lease.Seconds()),
			colDeliveryCount:  goqu.L(sqlIncrementDeliveryCount),
		}).
		From(next).
		Where(table.Col(colID).Eq(next.Col(colID))).
		Returning(
			table.Col(colID),
			table.Col(colName),
			table.Col(colPayload),
			table.Col(colCreatedAt),
			table.Col(colClaimedAt),
			table.Col(colClaimant),
			table.Col(colLeaseExpiresAt),
			table.Col(colDeliveryCount),
		).
		ToSQL()
}

func (q *Queue) buildAppendQuery(event queue.Event) (sqlQueryString, sqlArgs, error) {
	return q.dialect.
		Insert(q.eventTableName).
		Prepared(true).
		Cols(colName, colPayload).
		Vals(goqu.Vals{event.Name, goqu.L(castJsonb, string(event.PayloadJSON))}).
		Returning(colID).
		ToSQL()
}

func (q *Queue) buildAckQuery(id queue.EventID, claimant string) (sqlQueryString, sqlArgs, error) {
	return q.dialect.
		Update(q.eventTableName).
		Prepared(true).
		Set(goqu.Record{colProcessedAt: goqu.L(sqlNow)}).
		Where(
			goqu.C(colID).Eq(id),
			goqu.C(colClaimant).Eq(claimant),
			goqu.C(colProcessedAt).IsNull(),
		).
		ToSQL()
}

func (q *Queue) buildAckStatusQuery(id queue.EventID) (sqlQueryString, sqlArgs, error) {
	return q.dialect.
		From(q.eventTableName).
		Prepared(true).
		Select(colClaimant, colProcessedAt).
		Where(goqu.C(colID).Eq(id)).
		ToSQL()
}

func (q *Queue) buildSettleQuery(id queue.EventID) (sqlQueryString, sqlArgs, error) {
	return q.dialect.
		Update(q.eventTableName).
		Prepared(true).
		Set(goqu.Record{colProcessedAt: goqu.L(sqlNow)}).
		Where(goqu.C(colID).Eq(id), goqu.C(colProcessedAt).IsNull()).
		ToSQL()
}

func (q *Queue) buildReclaimQuery(name string) (sqlQueryString, sqlArgs, error) {
	return q.dialect.
		Update(q.eventTableName).
		Prepared(true).
		Set(goqu.Record{
			colClaimedAt:      nil,
			colClaimant:       nil,
			colLeaseExpiresAt: nil,
		}).
		Where(
			goqu.C(colName).Eq(name),
			goqu.C(colProcessedAt).IsNull(),
			goqu.C(colLeaseExpiresAt).Lte(goqu.L(sqlNow)),
		).
		ToSQL()
}

func (q *Queue) buildBacklogQuery(name string) (sqlQueryString, sqlArgs, error) {
	return q.dialect.
		From(q.eventTableName).
		Prepared(true).
		Select(goqu.COUNT(goqu.Star()).As(aliasCount)).
		Where(goqu.C(colName).Eq(name), goqu.C(colProcessedAt).IsNull()).
		ToSQL()
}

// eventTableDDL returns the idempotent statements that create the events table.
func eventTableDDL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT        NOT NULL,
	payload          JSONB       NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	claimed_at       TIMESTAMPTZ,
	claimant         TEXT,
	lease_expires_at TIMESTAMPTZ,
	delivery_count   INTEGER     NOT NULL DEFAULT 0,
	processed_at     TIMESTAMPTZ
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (name, id) WHERE processed_at IS NULL`,
			table+"_pending_idx", table),
	}
}
