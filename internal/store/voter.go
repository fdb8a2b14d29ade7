package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/model"
)

// UpsertVoter inserts or updates a Voter keyed on address, preserving
// non-null ens/avatar if the new record is null for them (spec §4.4).
func (s *Store) UpsertVoter(ctx context.Context, v *model.Voter) error {
	return s.withTx(ctx, "UpsertVoter", func(tx *sql.Tx) error {
		if v.UpdatedAt.IsZero() {
			v.UpdatedAt = time.Now().UTC()
		}
		const q = `
			INSERT INTO voters (address, ens, avatar, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (address) DO UPDATE SET
				ens = COALESCE(EXCLUDED.ens, voters.ens),
				avatar = COALESCE(EXCLUDED.avatar, voters.avatar),
				updated_at = EXCLUDED.updated_at`
		if _, err := tx.ExecContext(ctx, q, v.Address, v.ENS, v.Avatar, v.UpdatedAt); err != nil {
			return &errs.DatabaseError{Op: "UpsertVoter", Cause: err}
		}
		return nil
	})
}

// GetVoterByAddress loads a Voter, returning errs.NotFound if absent.
func (s *Store) GetVoterByAddress(ctx context.Context, address string) (*model.Voter, error) {
	const q = `SELECT address, ens, avatar, updated_at FROM voters WHERE address = $1`
	row := s.db.QueryRowContext(ctx, q, address)
	var v model.Voter
	if err := row.Scan(&v.Address, &v.ENS, &v.Avatar, &v.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &errs.NotFound{Entity: "voter", Key: address}
		}
		return nil, &errs.DatabaseError{Op: "GetVoterByAddress", Cause: err}
	}
	return &v, nil
}
