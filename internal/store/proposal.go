package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/model"
	"github.com/lib/pq"
)

// UpsertProposal inserts or updates a Proposal keyed on (governor_id,
// external_id), preserving marked_spam if already set (spec §4.4).
func (s *Store) UpsertProposal(ctx context.Context, p *model.Proposal) error {
	return s.withTx(ctx, "UpsertProposal", func(tx *sql.Tx) error {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		const q = `
			INSERT INTO proposals (
				id, governor_id, dao_id, external_id, author, name, body, url,
				discussion_url, choices, quorum, state, marked_spam,
				created_at, start_at, end_at,
				block_created_at, block_start_at, block_end_at, txid, metadata
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8,
				$9, $10, $11, $12, $13,
				$14, $15, $16,
				$17, $18, $19, $20, $21
			)
			ON CONFLICT (governor_id, external_id) DO UPDATE SET
				author = EXCLUDED.author,
				name = EXCLUDED.name,
				body = EXCLUDED.body,
				url = EXCLUDED.url,
				discussion_url = EXCLUDED.discussion_url,
				choices = EXCLUDED.choices,
				quorum = EXCLUDED.quorum,
				state = EXCLUDED.state,
				marked_spam = proposals.marked_spam OR EXCLUDED.marked_spam,
				start_at = EXCLUDED.start_at,
				end_at = EXCLUDED.end_at,
				block_start_at = EXCLUDED.block_start_at,
				block_end_at = EXCLUDED.block_end_at,
				txid = EXCLUDED.txid,
				metadata = EXCLUDED.metadata
			RETURNING id`

		row := tx.QueryRowContext(ctx, q,
			p.ID, p.GovernorID, p.DAOID, p.ExternalID, p.Author, p.Name, p.Body, p.URL,
			p.DiscussionURL, pq.Array(p.Choices), p.Quorum, p.State, p.MarkedSpam,
			p.CreatedAt, p.StartAt, p.EndAt,
			p.BlockCreatedAt, p.BlockStartAt, p.BlockEndAt, p.TxID, p.Metadata,
		)
		if err := row.Scan(&p.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertProposal", Cause: err}
		}

		// Back-fill any votes observed before this proposal was indexed
		// (spec §3 invariant: a NULL proposal_id vote is back-filled once
		// the proposal is indexed).
		const backfill = `
			UPDATE votes SET proposal_id = $1
			WHERE governor_id = $2 AND proposal_external_id = $3 AND proposal_id IS NULL`
		if _, err := tx.ExecContext(ctx, backfill, p.ID, p.GovernorID, p.ExternalID); err != nil {
			return &errs.DatabaseError{Op: "UpsertProposal.Backfill", Cause: err}
		}

		return nil
	})
}

// UpdateProposalState transitions state (and optionally quorum) in a
// single transaction, used by the finalizer (spec §4.10).
func (s *Store) UpdateProposalState(ctx context.Context, proposalID uuid.UUID, state model.ProposalState) error {
	return s.withTx(ctx, "UpdateProposalState", func(tx *sql.Tx) error {
		const q = `UPDATE proposals SET state = $1 WHERE id = $2`
		if _, err := tx.ExecContext(ctx, q, state, proposalID); err != nil {
			return &errs.DatabaseError{Op: "UpdateProposalState", Cause: err}
		}
		return nil
	})
}

// GetProposalByExternalID resolves a proposal's internal id from its
// natural key, returning errs.NotFound if not yet indexed.
func (s *Store) GetProposalByExternalID(ctx context.Context, governorID uuid.UUID, externalID string) (*model.Proposal, error) {
	const q = `
		SELECT id, governor_id, dao_id, external_id, author, name, body, url,
			discussion_url, choices, quorum, state, marked_spam,
			created_at, start_at, end_at,
			block_created_at, block_start_at, block_end_at, txid, metadata
		FROM proposals WHERE governor_id = $1 AND external_id = $2`
	row := s.db.QueryRowContext(ctx, q, governorID, externalID)
	p := &model.Proposal{}
	var choices pq.StringArray
	if err := row.Scan(
		&p.ID, &p.GovernorID, &p.DAOID, &p.ExternalID, &p.Author, &p.Name, &p.Body, &p.URL,
		&p.DiscussionURL, &choices, &p.Quorum, &p.State, &p.MarkedSpam,
		&p.CreatedAt, &p.StartAt, &p.EndAt,
		&p.BlockCreatedAt, &p.BlockStartAt, &p.BlockEndAt, &p.TxID, &p.Metadata,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, &errs.NotFound{Entity: "proposal", Key: externalID}
		}
		return nil, &errs.DatabaseError{Op: "GetProposalByExternalID", Cause: err}
	}
	p.Choices = []string(choices)
	return p, nil
}

// ListProposalsForVoteRefresh returns every proposal under governorID
// that is still open, or whose voting window closed within
// recentWindow of now (late vote edits remain possible for a while
// after a Snapshot proposal closes), the Snapshot vote-refresh scan
// target (spec §4.7).
func (s *Store) ListProposalsForVoteRefresh(ctx context.Context, governorID uuid.UUID, recentWindow time.Duration, now time.Time) ([]model.Proposal, error) {
	const q = `
		SELECT id, governor_id, dao_id, external_id, author, name, body, url,
			discussion_url, choices, quorum, state, marked_spam,
			created_at, start_at, end_at,
			block_created_at, block_start_at, block_end_at, txid, metadata
		FROM proposals
		WHERE governor_id = $1
		  AND (state IN ($2, $3) OR end_at >= $4)
		ORDER BY end_at ASC`
	rows, err := s.db.QueryContext(ctx, q, governorID, model.ProposalStateActive, model.ProposalStatePending, now.Add(-recentWindow))
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListProposalsForVoteRefresh", Cause: err}
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		var p model.Proposal
		var choices pq.StringArray
		if err := rows.Scan(
			&p.ID, &p.GovernorID, &p.DAOID, &p.ExternalID, &p.Author, &p.Name, &p.Body, &p.URL,
			&p.DiscussionURL, &choices, &p.Quorum, &p.State, &p.MarkedSpam,
			&p.CreatedAt, &p.StartAt, &p.EndAt,
			&p.BlockCreatedAt, &p.BlockStartAt, &p.BlockEndAt, &p.TxID, &p.Metadata,
		); err != nil {
			return nil, &errs.DatabaseError{Op: "ListProposalsForVoteRefresh.Scan", Cause: err}
		}
		p.Choices = []string(choices)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProposalsWithoutGroup returns every proposal under daoID that is
// not yet a member of any proposal_group, the grouper's phase 2/3 scan
// target (spec §4.11).
func (s *Store) ListProposalsWithoutGroup(ctx context.Context, daoID uuid.UUID) ([]model.Proposal, error) {
	const q = `
		SELECT p.id, p.governor_id, p.dao_id, p.external_id, p.author, p.name, p.body, p.url,
			p.discussion_url, p.choices, p.quorum, p.state, p.marked_spam,
			p.created_at, p.start_at, p.end_at,
			p.block_created_at, p.block_start_at, p.block_end_at, p.txid, p.metadata
		FROM proposals p
		WHERE p.dao_id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM proposal_groups g, jsonb_array_elements(g.items) item
		      WHERE (item->>'kind') = 'proposal'
		        AND (item->>'governor_id')::uuid = p.governor_id
		        AND (item->>'external_id') = p.external_id
		  )`
	rows, err := s.db.QueryContext(ctx, q, daoID)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListProposalsWithoutGroup", Cause: err}
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		var p model.Proposal
		var choices pq.StringArray
		if err := rows.Scan(
			&p.ID, &p.GovernorID, &p.DAOID, &p.ExternalID, &p.Author, &p.Name, &p.Body, &p.URL,
			&p.DiscussionURL, &choices, &p.Quorum, &p.State, &p.MarkedSpam,
			&p.CreatedAt, &p.StartAt, &p.EndAt,
			&p.BlockCreatedAt, &p.BlockStartAt, &p.BlockEndAt, &p.TxID, &p.Metadata,
		); err != nil {
			return nil, &errs.DatabaseError{Op: "ListProposalsWithoutGroup.Scan", Cause: err}
		}
		p.Choices = []string(choices)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListActiveProposalsPastEnd returns every Active proposal whose end_at
// has passed, the finalizer's scan target (spec §4.10).
func (s *Store) ListActiveProposalsPastEnd(ctx context.Context, now time.Time) ([]model.Proposal, error) {
	const q = `
		SELECT id, governor_id, dao_id, external_id, author, name, body, url,
			discussion_url, choices, quorum, state, marked_spam,
			created_at, start_at, end_at,
			block_created_at, block_start_at, block_end_at, txid, metadata
		FROM proposals WHERE state = $1 AND end_at <= $2`
	rows, err := s.db.QueryContext(ctx, q, model.ProposalStateActive, now)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListActiveProposalsPastEnd", Cause: err}
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		var p model.Proposal
		var choices pq.StringArray
		if err := rows.Scan(
			&p.ID, &p.GovernorID, &p.DAOID, &p.ExternalID, &p.Author, &p.Name, &p.Body, &p.URL,
			&p.DiscussionURL, &choices, &p.Quorum, &p.State, &p.MarkedSpam,
			&p.CreatedAt, &p.StartAt, &p.EndAt,
			&p.BlockCreatedAt, &p.BlockStartAt, &p.BlockEndAt, &p.TxID, &p.Metadata,
		); err != nil {
			return nil, &errs.DatabaseError{Op: "ListActiveProposalsPastEnd.Scan", Cause: err}
		}
		p.Choices = []string(choices)
		out = append(out, p)
	}
	return out, rows.Err()
}
