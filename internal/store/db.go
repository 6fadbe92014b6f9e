// Package store keeps the client's durable local state: versioned
// preference payloads and the search history, in a per-session SQLite file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the session's state.db. Writes are small and infrequent, so a
// single connection serialises them and avoids SQLITE_BUSY between
// the organizer and the search log.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the state database at path in WAL mode.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state db %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the database file location.
func (db *DB) Path() string { return db.path }
