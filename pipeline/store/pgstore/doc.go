// Package pgstore implements the store ports on PostgreSQL.
//
// Repositories run their statements through the queue engine's transaction, so every
// domain change commits atomically with the events appended or acknowledged alongside it.
// All SQL is built with goqu. Conditional updates carry the expected state (and claimant)
// in their WHERE clause, and a zero row count is reported as store.ErrStateConflict.
package pgstore
