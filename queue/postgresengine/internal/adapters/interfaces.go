package adapters

import (
	"context"
	"errors"
)

// ErrTxDone is returned by Commit or Rollback on a transaction that already finished.
var ErrTxDone = errors.New("transaction has already been committed or rolled back")

// Executor runs statements with positional arguments.
type Executor interface {
	Query(ctx context.Context, query string, args ...any) (DBRows, error)
	Exec(ctx context.Context, query string, args ...any) (DBResult, error)
}

// DBAdapter defines the database operations needed by the queue engine.
type DBAdapter interface {
	Executor
	BeginTx(ctx context.Context) (DBTx, error)
	Ping(ctx context.Context) error
}

// DBTx is a transaction opened by a DBAdapter.
type DBTx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
