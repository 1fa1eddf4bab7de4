package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrUnavailable is returned by every store method when the database
// handle is absent. Callers degrade reads to empty results and writes
// to no-ops rather than failing hard.
var ErrUnavailable = errors.New("store unavailable")

// DB wraps a SQLite database connection for the profile-owned courier.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// ready reports whether the handle is usable.
func (db *DB) ready() error {
	if db == nil || db.DB == nil {
		return ErrUnavailable
	}
	return nil
}
