// Package store is the data access layer for the legal corpus: instruments,
// their blocks, the immutable version history of each block, the fragments
// cut from each version, and the embedding queue markers.
//
// Versions and fragments are append-only. Their IDs are content hashes, so
// every insert is insert-if-absent and re-ingesting the same upstream data
// is a no-op. The single mutation the layer allows on a version is the
// effective-end backfill performed by consolidation.
package store

import (
	"database/sql"
	"errors"
	"log/slog"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNoCurrentVersion is returned when a block has no open version.
	ErrNoCurrentVersion = errors.New("store: no current version")
	// ErrNoVersionInForce is returned when no version covers the given date.
	ErrNoVersionInForce = errors.New("store: no version in force at date")
)

// Store wraps the corpus database.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

// New creates a Store from an already-opened database connection.
// A nil logger falls back to slog.Default.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{DB: db, logger: logger}
}
