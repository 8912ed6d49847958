package adapters

import (
	"context"
	"database/sql"
	"errors"
)

// stdExecutor is the subset shared by *sql.DB, *sql.Tx, *sqlx.DB and *sqlx.Tx.
type stdExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func stdQuery(ctx context.Context, ex stdExecutor, query string, args []any) (DBRows, error) {
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

func stdExec(ctx context.Context, ex stdExecutor, query string, args []any) (DBResult, error) {
	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// stdTx wraps *sql.Tx to implement DBTx. sqlx transactions embed *sql.Tx and use it too.
type stdTx struct {
	tx *sql.Tx
}

func (s *stdTx) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	return stdQuery(ctx, s.tx, query, args)
}

func (s *stdTx) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	return stdExec(ctx, s.tx, query, args)
}

// Commit commits the transaction. The context is unused, database/sql binds it at BeginTx.
func (s *stdTx) Commit(_ context.Context) error {
	return translateTxDone(s.tx.Commit())
}

// Rollback aborts the transaction.
func (s *stdTx) Rollback(_ context.Context) error {
	return translateTxDone(s.tx.Rollback())
}

func translateTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return ErrTxDone
	}

	return err
}

// stdRows wraps standard library sql.Rows to implement the DBRows interface.
type stdRows struct {
	rows *sql.Rows
}

func (s *stdRows) Next() bool {
	return s.rows.Next()
}

func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *stdRows) Err() error {
	return s.rows.Err()
}

func (s *stdRows) Close() error {
	return s.rows.Close()
}
