// Package history keeps the command history in a sqlite database under the
// data directory. A command is whatever a client wrote to a pane ending in a
// newline; the dispatcher records them as they pass through pane.write.
package history

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS command_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pane_id TEXT NOT NULL,
	command TEXT NOT NULL,
	at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_command_history_at ON command_history(at);
`

// Entry is one recorded command.
type Entry struct {
	PaneID  string
	Command string
	At      time.Time
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open creates or opens <dataDir>/history.db.
func Open(dataDir string) (*Store, error) {
	dsn := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Append records one command.
func (s *Store) Append(paneID, command string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO command_history (pane_id, command, at) VALUES (?, ?, ?)",
		paneID, command, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns the newest limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT pane_id, command, at FROM command_history ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.PaneID, &e.Command, &e.At); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear wipes the history. For tests.
func (s *Store) Clear() error {
	_, err := s.db.Exec("DELETE FROM command_history")
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
