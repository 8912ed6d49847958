// Package pgtest provides PostgreSQL connections for integration tests.
//
// Tests that need a live database call one of the constructors, which skip the test
// unless STILT_TEST_DATABASE_URL points at a disposable database.
package pgtest
