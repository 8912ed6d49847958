package adapters

import (
	"context"
	"database/sql"
)

// SQLAdapter implements DBAdapter for sql.DB.
type SQLAdapter struct {
	db *sql.DB
}

// NewSQLAdapter creates a new SQL adapter.
func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

// Query executes a query using the sql.DB and returns wrapped rows.
func (s *SQLAdapter) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	return stdQuery(ctx, s.db, query, args)
}

// Exec executes a statement using the sql.DB.
func (s *SQLAdapter) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	return stdExec(ctx, s.db, query, args)
}

// BeginTx opens a READ COMMITTED transaction.
func (s *SQLAdapter) BeginTx(ctx context.Context) (DBTx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}

	return &stdTx{tx: tx}, nil
}

// Ping verifies the connection.
func (s *SQLAdapter) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
