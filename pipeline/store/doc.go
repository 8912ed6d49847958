// Package store defines the persistence ports of the pipeline: one repository per entity,
// the event log used inside a transaction, and the queue primitives used outside of one.
//
// All mutations go through UnitOfWork.Transact, so a state change and the event it causes
// commit together or not at all. Implementations live in pgstore (Postgres) and memstore
// (in-memory).
package store
