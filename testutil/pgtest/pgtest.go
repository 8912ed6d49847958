package pgtest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // driver for sql.DB and sqlx.DB
	"github.com/stretchr/testify/require"
)

// DSNEnvVar names the environment variable holding the test database DSN.
const DSNEnvVar = "STILT_TEST_DATABASE_URL"

// DSN returns the test database DSN or skips the test.
func DSN(t testing.TB) string {
	t.Helper()

	dsn := os.Getenv(DSNEnvVar)
	if dsn == "" {
		t.Skipf("%s not set, skipping database integration test", DSNEnvVar)
	}

	return dsn
}

// PGXPool opens a pgx pool sized for concurrency tests and closes it on cleanup.
func PGXPool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	config, err := pgxpool.ParseConfig(DSN(t))
	require.NoError(t, err, "parsing the test DSN failed")

	config.MaxConns = 20
	config.MinConns = 2
	config.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	require.NoError(t, err, "error connecting to DB pool in test setup")
	t.Cleanup(pool.Close)

	return pool
}

// SQLDB opens a lib/pq backed sql.DB and closes it on cleanup.
func SQLDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", DSN(t))
	require.NoError(t, err, "error opening sql.DB in test setup")
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// SQLX opens a lib/pq backed sqlx.DB and closes it on cleanup.
func SQLX(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("postgres", DSN(t))
	require.NoError(t, err, "error opening sqlx.DB in test setup")
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// Truncate empties the given tables and restarts their identities.
func Truncate(t testing.TB, pool *pgxpool.Pool, tables ...string) {
	t.Helper()

	for _, table := range tables {
		_, err := pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" RESTART IDENTITY CASCADE")
		require.NoError(t, err, "error truncating table %s", table)
	}
}
