package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/model"
)

// UpsertDelegation inserts one observed DelegateChanged event, keyed on
// (dao_id, delegator, block) so a re-scanned block does not duplicate.
func (s *Store) UpsertDelegation(ctx context.Context, d *model.Delegation) error {
	return s.withTx(ctx, "UpsertDelegation", func(tx *sql.Tx) error {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		const q = `
			INSERT INTO delegations (id, dao_id, delegator, delegate, block, timestamp, txid)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (dao_id, delegator, block) DO UPDATE SET
				delegate = EXCLUDED.delegate,
				timestamp = EXCLUDED.timestamp,
				txid = EXCLUDED.txid
			RETURNING id`
		row := tx.QueryRowContext(ctx, q, d.ID, d.DAOID, d.Delegator, d.Delegate, d.Block, d.Timestamp, d.TxID)
		if err := row.Scan(&d.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertDelegation", Cause: err}
		}
		return nil
	})
}

// UpsertVotingPower inserts one observed DelegateVotesChanged snapshot,
// keyed on (dao_id, voter, block).
func (s *Store) UpsertVotingPower(ctx context.Context, vp *model.VotingPower) error {
	return s.withTx(ctx, "UpsertVotingPower", func(tx *sql.Tx) error {
		if vp.ID == uuid.Nil {
			vp.ID = uuid.New()
		}
		const q = `
			INSERT INTO voting_power (id, dao_id, voter, voting_power, block, timestamp, txid)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (dao_id, voter, block) DO UPDATE SET
				voting_power = EXCLUDED.voting_power,
				timestamp = EXCLUDED.timestamp,
				txid = EXCLUDED.txid
			RETURNING id`
		row := tx.QueryRowContext(ctx, q, vp.ID, vp.DAOID, vp.Voter, vp.VotingPower, vp.Block, vp.Timestamp, vp.TxID)
		if err := row.Scan(&vp.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertVotingPower", Cause: err}
		}
		return nil
	})
}
