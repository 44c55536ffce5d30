package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-row queries with no match.
var ErrNotFound = errors.New("persistence: not found")

// Store is the relational store over Postgres. All queries go through
// database/sql with lib/pq; settlement paths run inside explicit
// transactions via WithTx.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the migrator and health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction at the given isolation level,
// rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, iso sql.IsolationLevel, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: iso})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
