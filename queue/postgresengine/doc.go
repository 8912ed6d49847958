// Package postgresengine implements the queue on PostgreSQL.
//
// Claims are a single statement: a CTE selects pending rows with
// FOR UPDATE SKIP LOCKED and an UPDATE ... FROM marks them claimed, so concurrent
// claimants, in any process, never receive the same event. Timestamps are taken
// from the database clock, which keeps lease arithmetic independent of worker clocks.
//
// Appends and acknowledgements run inside caller transactions (see Queue.Transact),
// which is how domain state changes and their events commit or roll back together.
//
// The engine works with pgx.Pool, sql.DB (lib/pq), and sqlx.DB:
//
//	q, err := postgresengine.NewQueueFromPGXPool(pool,
//		postgresengine.WithLogger(slog.Default()),
//		postgresengine.WithMetrics(promadapters.NewMetricsCollector(registry)),
//	)
//
// All storage failures are returned joined with queue.ErrQueueUnavailable.
package postgresengine
