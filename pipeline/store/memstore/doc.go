// Package memstore is an in-memory implementation of the store ports.
//
// It keeps the same claim, lease and idempotency semantics as the Postgres implementation
// and is used to test the stages and for local dry runs. Transactions are serialized by a
// single mutex and roll back by restoring a snapshot.
package memstore
