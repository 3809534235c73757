// Package store provides persistent storage for agentworld using SQLite.
//
// # Architecture
//
// The store package exposes narrow interfaces that the runtime consumes:
//
//   - WorldStore: worlds and their current chat pointer
//   - AgentStore: agents together with their conversation memory
//   - ChatStore: chat session metadata
//   - EventLog: the append-only, per-chat sequenced event stream
//
// SQLiteStore implements all of them in a single struct. MockStore is an
// in-memory twin with the same semantics for unit tests.
//
// # Event Partitions
//
// Events are partitioned by (world, chat). Events without a chat form their
// own partition. Each partition has its own sequence starting at 1:
//
//	world w1, chat c1: 1, 2, 3, ...
//	world w1, chat c2: 1, 2, ...
//	world w1, no chat: 1, ...
//
// Sequence numbers are assigned inside SaveEvent from the stored maximum, so
// they survive restarts and are never reused.
//
// # Drivers
//
// Two database/sql drivers are registered:
//
//   - "sqlite": modernc.org/sqlite (pure Go, the default)
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo)
//
// Use OpenSQLite(driver, path) to choose one explicitly.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
//   - ErrNotFound: requested world, agent, or chat does not exist
//   - ErrDuplicateWorld: CreateWorld with an id already in use
//
// Writes that touch more than one table run in a transaction, so a failed
// SaveAgent or DeleteWorld never leaves partial state behind.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(t.TempDir()+"/x.db")
// for integration tests against real SQLite.
package store
