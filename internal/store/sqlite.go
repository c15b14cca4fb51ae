// Package store provides SQLite-backed persistence for Hermes state.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the main persistence layer for Hermes.
type Store struct {
	db *sql.DB
}

// New creates a new Store, initializing the database if needed.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Conversation-scoped agent sessions. Jobs are in-memory only and are
	-- not persisted; only session identity and lifecycle state survive a
	-- daemon restart.
	CREATE TABLE IF NOT EXISTS sessions (
		conversation_key   TEXT PRIMARY KEY,
		id                 TEXT NOT NULL,
		status             TEXT NOT NULL,
		model              TEXT NOT NULL DEFAULT '',
		runtime_session_id TEXT NOT NULL DEFAULT '',
		workspace_dir      TEXT NOT NULL,
		data_dir           TEXT NOT NULL,
		log_dir            TEXT NOT NULL,

		-- Cached per-tool permission decisions, JSON object tool -> action
		decisions          TEXT NOT NULL DEFAULT '{}',

		last_active        DATETIME NOT NULL,
		created_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);
	`

	_, err := s.db.Exec(schema)
	return err
}
