// Package store is the canonical upsert layer (spec §4.4): idempotent,
// conflict-resolving writes on each entity's natural key, each wrapped
// in its own transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/logging"
	"go.uber.org/zap"
)

// Store is the shared upsert layer used by every indexer.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// New builds a Store over an already-connected, migrated database.
func New(db *sql.DB, logger *logging.Logger) *Store {
	return &Store{db: db, logger: logger.Named("store")}
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic, matching spec §4.4 "every mutation is
// wrapped in a transaction".
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.DatabaseError{Op: op, Cause: err}
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error(fmt.Sprintf("rollback failed for %s", op), zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &errs.DatabaseError{Op: op, Cause: err}
	}

	return nil
}
