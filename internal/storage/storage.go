// Package storage owns the sqlite database backing the server's durable
// state: the trajectory ledger, the model audit table and the message audit
// table. The database is the only state that survives a server restart.
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Schema creates all tables. Statements are idempotent so reopening an
// existing database is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS trajectories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trajectory_id TEXT UNIQUE NOT NULL,
	seed_id TEXT NOT NULL DEFAULT '',
	protocol TEXT NOT NULL,
	path TEXT NOT NULL,
	produced_by TEXT NOT NULL DEFAULT '',
	round INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trajectories_round ON trajectories(round);

CREATE TABLE IF NOT EXISTS models (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model_id TEXT UNIQUE NOT NULL,
	state_count INTEGER NOT NULL,
	round INTEGER NOT NULL DEFAULT 0,
	submitted_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	msg_id TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	session TEXT NOT NULL DEFAULT '',
	msg_type TEXT NOT NULL,
	direction TEXT NOT NULL,
	client_id TEXT NOT NULL DEFAULT '',
	raw TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_msg_id ON messages(msg_id);
CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session);
`

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// OpenMemory opens a private in-memory database, used by tests and by
// `serve` runs that disable persistence.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// A single connection keeps the shared-cache memory db alive.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}
