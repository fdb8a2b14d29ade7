package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/model"
)

// UpsertVote inserts or updates a Vote keyed on (governor_id,
// proposal_external_id, voter_address, created_at). Later writes with
// the same key overwrite voting_power/choice/reason, which makes
// snapshot vote edits and reorg-tolerant on-chain re-scans idempotent
// (spec §3, §4.4, §8 property 1).
//
// If the proposal has not yet been indexed, proposal_id is left NULL
// (spec §3 invariant); UpsertProposal backfills it later.
func (s *Store) UpsertVote(ctx context.Context, v *model.Vote) error {
	return s.withTx(ctx, "UpsertVote", func(tx *sql.Tx) error {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}

		if v.ProposalID == nil {
			var proposalID uuid.UUID
			const lookup = `SELECT id FROM proposals WHERE governor_id = $1 AND external_id = $2`
			err := tx.QueryRowContext(ctx, lookup, v.GovernorID, v.ProposalExternalID).Scan(&proposalID)
			switch {
			case err == nil:
				v.ProposalID = &proposalID
			case err == sql.ErrNoRows:
				// Not found yet: stored with NULL proposal_id, not an error.
			default:
				return &errs.DatabaseError{Op: "UpsertVote.lookupProposal", Cause: err}
			}
		}

		const q = `
			INSERT INTO votes (
				id, governor_id, dao_id, proposal_id, proposal_external_id,
				voter_address, voting_power, choice, reason, created_at,
				block_created_at, txid
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
			)
			ON CONFLICT (governor_id, proposal_external_id, voter_address, created_at)
			DO UPDATE SET
				voting_power = EXCLUDED.voting_power,
				choice = EXCLUDED.choice,
				reason = EXCLUDED.reason,
				proposal_id = COALESCE(votes.proposal_id, EXCLUDED.proposal_id),
				block_created_at = EXCLUDED.block_created_at,
				txid = EXCLUDED.txid
			RETURNING id`

		row := tx.QueryRowContext(ctx, q,
			v.ID, v.GovernorID, v.DAOID, v.ProposalID, v.ProposalExternalID,
			v.VoterAddress, v.VotingPower, v.Choice, v.Reason, v.CreatedAt,
			v.BlockCreatedAt, v.TxID,
		)
		if err := row.Scan(&v.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertVote", Cause: err}
		}
		return nil
	})
}

// ListVotesForProposal returns every vote recorded for a proposal,
// used by the finalizer's tally computation (spec §4.10).
func (s *Store) ListVotesForProposal(ctx context.Context, proposalID uuid.UUID) ([]model.Vote, error) {
	const q = `
		SELECT id, governor_id, dao_id, proposal_id, proposal_external_id,
			voter_address, voting_power, choice, reason, created_at,
			block_created_at, txid
		FROM votes WHERE proposal_id = $1`
	rows, err := s.db.QueryContext(ctx, q, proposalID)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListVotesForProposal", Cause: err}
	}
	defer rows.Close()

	var out []model.Vote
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(
			&v.ID, &v.GovernorID, &v.DAOID, &v.ProposalID, &v.ProposalExternalID,
			&v.VoterAddress, &v.VotingPower, &v.Choice, &v.Reason, &v.CreatedAt,
			&v.BlockCreatedAt, &v.TxID,
		); err != nil {
			return nil, &errs.DatabaseError{Op: "ListVotesForProposal.Scan", Cause: err}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
