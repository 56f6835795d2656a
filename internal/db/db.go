// Package db is the persistence layer: a single-file SQLite store
// holding every frame's motion profile and the flagged edge cases that
// reference them.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies the
// standing pragmas: WAL for concurrent readers against a serialized
// writer, a busy timeout so contending writers queue instead of
// failing instantly, and enforced foreign keys so an edge case can
// never reference a missing frame. The pragmas ride on the DSN so
// every pooled connection gets them.
func Open(path string) (*DB, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &DB{sqlDB}, nil
}
