// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Provides world, agent, chat and event persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
	locks  *partitionLocks
}

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure-Go driver. The schema is automatically created if it doesn't exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLite(DriverModernc, path)
}

// OpenSQLite creates a SQLite store with an explicit driver name.
// Parent directories are created if needed.
func OpenSQLite(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if !isKnownDriver(driver) {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer; one pooled connection keeps pragmas and
	// :memory: databases consistent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		driver: driver,
		logger: logger,
		locks:  newPartitionLocks(),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS worlds (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			current_chat_id TEXT,
			turn_limit      INTEGER NOT NULL DEFAULT 5,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			world_id       TEXT NOT NULL REFERENCES worlds(id) ON DELETE CASCADE,
			id             TEXT NOT NULL,
			name           TEXT NOT NULL,
			type           TEXT NOT NULL DEFAULT 'assistant',
			provider       TEXT NOT NULL DEFAULT '',
			model          TEXT NOT NULL DEFAULT '',
			system_prompt  TEXT NOT NULL DEFAULT '',
			llm_call_count INTEGER NOT NULL DEFAULT 0,
			last_active    TEXT,
			created_at     TEXT NOT NULL,

			PRIMARY KEY (world_id, id)
		);

		CREATE TABLE IF NOT EXISTS agent_memory (
			world_id            TEXT NOT NULL,
			agent_id            TEXT NOT NULL,
			position            INTEGER NOT NULL,
			role                TEXT NOT NULL,
			content             TEXT NOT NULL,
			message_id          TEXT,
			reply_to_message_id TEXT,
			chat_id             TEXT,
			sender              TEXT,
			tool_call_id        TEXT,
			tool_name           TEXT,
			tool_args           TEXT,
			created_at          TEXT NOT NULL,

			PRIMARY KEY (world_id, agent_id, position),
			FOREIGN KEY (world_id, agent_id) REFERENCES agents(world_id, id) ON DELETE CASCADE,
			CHECK (role IN ('user', 'assistant', 'tool', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_agent_memory_chat ON agent_memory(world_id, chat_id);

		CREATE TABLE IF NOT EXISTS chats (
			world_id      TEXT NOT NULL REFERENCES worlds(id) ON DELETE CASCADE,
			id            TEXT NOT NULL,
			name          TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			PRIMARY KEY (world_id, id)
		);

		-- chat_key is '' for events outside any chat so the partition has a
		-- non-null key the unique index can cover.
		CREATE TABLE IF NOT EXISTS events (
			world_id   TEXT NOT NULL,
			chat_key   TEXT NOT NULL,
			chat_id    TEXT,
			id         TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			type       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			meta       TEXT,
			created_at TEXT NOT NULL,

			UNIQUE (world_id, chat_key, seq),
			UNIQUE (world_id, chat_key, id),
			CHECK (seq > 0),
			CHECK (type IN ('message', 'world', 'sse', 'system', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_type ON events(world_id, chat_key, type, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "agent_memory",
			column: "tool_call_id",
			apply:  `ALTER TABLE agent_memory ADD COLUMN tool_call_id TEXT`,
		},
		{
			table:  "agent_memory",
			column: "tool_name",
			apply:  `ALTER TABLE agent_memory ADD COLUMN tool_name TEXT`,
		},
		{
			table:  "agent_memory",
			column: "tool_args",
			apply:  `ALTER TABLE agent_memory ADD COLUMN tool_args TEXT`,
		},
		{
			table:  "chats",
			column: "description",
			apply:  `ALTER TABLE chats ADD COLUMN description TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteStore) Driver() string {
	return s.driver
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts empty strings to NULL for optional columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
