// Package storage is the SQLite persistence layer of the ledger. It is
// plain data access: period-state rules and allocation live in the service
// and core layers.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store owns the database handle. All reads go through Queries; every
// multi-statement mutation runs inside InTx so ledger writes are atomic.
type Store struct {
	db      *sql.DB
	queries *Queries
}

// Open opens (creating if needed) the SQLite database at dbPath and applies
// pending migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Cross-table invariants (expense -> budget item, rows -> period) rely
	// on foreign keys being enforced.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:      db,
		queries: New(db),
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Queries returns the read/write interface bound to the main connection,
// outside any transaction.
func (s *Store) Queries() *Queries {
	return s.queries
}

// InTx runs fn inside a transaction. Any error rolls back every statement,
// so a close or a record operation is either fully applied or not at all.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(New(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
