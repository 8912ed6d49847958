package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
)

const (
	dialectPostgres = "postgres"
	sqlNow          = "NOW()"
	sqlIntervalAgo  = "NOW() - make_interval(secs => ?::double precision)"
	castJsonb       = "?::jsonb"
	cteNext         = "next"
	aliasCount      = "count"
)

// ErrNilQueue is returned when New is called without a queue engine.
var ErrNilQueue = errors.New("nil queue engine supplied")

// Store implements store.Store on PostgreSQL.
type Store struct {
	q       *postgresengine.Queue
	dialect goqu.DialectWrapper
}

// New wraps a queue engine. Domain tables share its connection pool and transactions.
func New(q *postgresengine.Queue) (*Store, error) {
	if q == nil {
		return nil, ErrNilQueue
	}

	return &Store{q: q, dialect: goqu.Dialect(dialectPostgres)}, nil
}

// Migrate creates the event table and the domain tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.q.Migrate(ctx); err != nil {
		return err
	}

	return s.q.Transact(ctx, func(ctx context.Context, tx *postgresengine.Tx) error {
		for _, statement := range schemaDDL {
			if _, err := tx.Exec(ctx, statement); err != nil {
				return fmt.Errorf("migrate domain schema: %w", err)
			}
		}

		return nil
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.q.Ping(ctx)
}

// Transact runs fn inside one database transaction.
func (s *Store) Transact(ctx context.Context, fn store.TxFunc) error {
	return s.q.Transact(ctx, func(ctx context.Context, ptx *postgresengine.Tx) error {
		return fn(ctx, &tx{ptx: ptx, dialect: s.dialect})
	})
}

// Claim delegates to the queue engine.
func (s *Store) Claim(
	ctx context.Context,
	name string,
	batchSize int,
	lease time.Duration,
	claimant string,
) (queue.ClaimedEvents, error) {

	return s.q.Claim(ctx, name, batchSize, lease, claimant)
}

// ReclaimExpired delegates to the queue engine.
func (s *Store) ReclaimExpired(ctx context.Context, name string) (int64, error) {
	return s.q.ReclaimExpired(ctx, name)
}

// BacklogCount delegates to the queue engine.
func (s *Store) BacklogCount(ctx context.Context, name string) (int64, error) {
	return s.q.BacklogCount(ctx, name)
}

// CountPendingSimulations counts simulations waiting for a worker, in its own transaction.
func (s *Store) CountPendingSimulations(ctx context.Context) (int64, error) {
	var count int64

	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var countErr error
		count, countErr = tx.Simulations().CountPending(ctx)
		return countErr
	})

	return count, err
}

type tx struct {
	ptx     *postgresengine.Tx
	dialect goqu.DialectWrapper
}

func (t *tx) Scenes() store.SceneRepository           { return scenes{t} }
func (t *tx) Receptors() store.ReceptorRepository     { return receptors{t} }
func (t *tx) Configs() store.ConfigRepository         { return configs{t} }
func (t *tx) Aggregates() store.AggregateRepository   { return aggregates{t} }
func (t *tx) Simulations() store.SimulationRepository { return simulations{t} }
func (t *tx) Events() store.EventLog                  { return t.ptx }

type builder interface {
	ToSQL() (string, []any, error)
}

// exec builds and runs a statement, returning the affected row count.
func (t *tx) exec(ctx context.Context, b builder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, err
	}

	return t.ptx.Exec(ctx, query, args...)
}

// query builds and runs a statement, scanning each row with scan.
func (t *tx) query(ctx context.Context, b builder, scan func(postgresengine.Rows) error) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return err
	}

	rows, err := t.ptx.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if scanErr := scan(rows); scanErr != nil {
			return errors.Join(queue.ErrQueueUnavailable, scanErr)
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return errors.Join(queue.ErrQueueUnavailable, rowsErr)
	}

	return nil
}

// queryOne is query for statements returning at most one row. It returns store.ErrNotFound
// if there was none.
func (t *tx) queryOne(ctx context.Context, b builder, what string, id any, scan func(postgresengine.Rows) error) error {
	found := false

	err := t.query(ctx, b, func(rows postgresengine.Rows) error {
		found = true
		return scan(rows)
	})
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("%w: %s %v", store.ErrNotFound, what, id)
	}

	return nil
}

func conflict(affected int64, format string, args ...any) error {
	if affected == 0 {
		return fmt.Errorf("%w: "+format, append([]any{store.ErrStateConflict}, args...)...)
	}

	return nil
}
