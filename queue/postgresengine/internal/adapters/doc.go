// Package adapters provide database adapter implementations for the PostgreSQL queue engine.
//
// The adapters hide the differences between pgxpool.Pool, sql.DB, and sqlx.DB behind
// one DBAdapter interface, including transactions, so the engine issues the same SQL
// with positional arguments through any of them.
package adapters
