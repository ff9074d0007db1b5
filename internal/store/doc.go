// Package store persists the gateway's audit log in SQLite.
//
// The audit log records agent lifecycle events (connect, disconnect,
// supersession, failed authentication) and capture session start and finish.
// Task results are not persisted.
//
// SQLiteStore uses the pure-Go modernc.org/sqlite driver in WAL mode with a
// single connection, so ":memory:" works for tests.
package store
