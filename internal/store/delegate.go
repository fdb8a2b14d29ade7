package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/model"
)

// GetOrCreateDelegate returns the Delegate bound to voterID and/or
// discourseUserID, reusing whichever side is already bound, or creating
// a new one if neither is (spec §4.9 "Attach both to a common Delegate
// record").
func (s *Store) GetOrCreateDelegate(ctx context.Context, daoID uuid.UUID, voterAddress string, discourseUserID *uuid.UUID) (*model.Delegate, error) {
	var delegateID uuid.UUID

	const fromVoter = `
		SELECT delegate_id FROM delegate_to_voters
		WHERE voter_id = $1 AND delegate_id IN (SELECT id FROM delegates WHERE dao_id = $2)
		LIMIT 1`
	err := s.db.QueryRowContext(ctx, fromVoter, voterAddress, daoID).Scan(&delegateID)
	if err != nil && err != sql.ErrNoRows {
		return nil, &errs.DatabaseError{Op: "GetOrCreateDelegate.fromVoter", Cause: err}
	}

	if delegateID == uuid.Nil && discourseUserID != nil {
		const fromUser = `
			SELECT delegate_id FROM delegate_to_discourse_users
			WHERE discourse_user_id = $1 AND delegate_id IN (SELECT id FROM delegates WHERE dao_id = $2)
			LIMIT 1`
		err := s.db.QueryRowContext(ctx, fromUser, *discourseUserID, daoID).Scan(&delegateID)
		if err != nil && err != sql.ErrNoRows {
			return nil, &errs.DatabaseError{Op: "GetOrCreateDelegate.fromUser", Cause: err}
		}
	}

	if delegateID == uuid.Nil {
		delegateID = uuid.New()
		if err := s.withTx(ctx, "GetOrCreateDelegate.create", func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO delegates (id, dao_id) VALUES ($1, $2)`, delegateID, daoID)
			return err
		}); err != nil {
			return nil, &errs.DatabaseError{Op: "GetOrCreateDelegate.create", Cause: err}
		}
	}

	return &model.Delegate{ID: delegateID, DAOID: daoID}, nil
}

// UpsertDelegateToVoter extends or creates the time-bounded binding
// between a Delegate and a Voter (spec §4.4, §4.9): if a row exists,
// period_end becomes now+1h and verified is OR-in'd; else a new row is
// inserted with period_start=now, period_end=now+1h.
func (s *Store) UpsertDelegateToVoter(ctx context.Context, delegateID uuid.UUID, voterAddress string, verified bool) error {
	return s.withTx(ctx, "UpsertDelegateToVoter", func(tx *sql.Tx) error {
		now := time.Now().UTC()
		const q = `
			INSERT INTO delegate_to_voters (id, delegate_id, voter_id, period_start, period_end, verified)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (delegate_id, voter_id) DO UPDATE SET
				period_end = $5,
				verified = delegate_to_voters.verified OR EXCLUDED.verified`
		_, err := tx.ExecContext(ctx, q, uuid.New(), delegateID, voterAddress, now, now.Add(time.Hour), verified)
		if err != nil {
			return &errs.DatabaseError{Op: "UpsertDelegateToVoter", Cause: err}
		}
		return nil
	})
}

// UpsertDelegateToDiscourseUser is UpsertDelegateToVoter's counterpart
// for the Discourse-user side of a delegate binding.
func (s *Store) UpsertDelegateToDiscourseUser(ctx context.Context, delegateID, discourseUserID uuid.UUID, verified bool) error {
	return s.withTx(ctx, "UpsertDelegateToDiscourseUser", func(tx *sql.Tx) error {
		now := time.Now().UTC()
		const q = `
			INSERT INTO delegate_to_discourse_users (id, delegate_id, discourse_user_id, period_start, period_end, verified)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (delegate_id, discourse_user_id) DO UPDATE SET
				period_end = $5,
				verified = delegate_to_discourse_users.verified OR EXCLUDED.verified`
		_, err := tx.ExecContext(ctx, q, uuid.New(), delegateID, discourseUserID, now, now.Add(time.Hour), verified)
		if err != nil {
			return &errs.DatabaseError{Op: "UpsertDelegateToDiscourseUser", Cause: err}
		}
		return nil
	})
}

// FindDiscourseUserByUsername resolves a Discourse user by
// case-insensitive username within a host (spec §4.9).
func (s *Store) FindDiscourseUserByUsername(ctx context.Context, daoDiscourseID uuid.UUID, username string) (*model.DiscourseUser, error) {
	const q = `
		SELECT id, dao_discourse_id, external_id, username, name, avatar_url
		FROM discourse_users WHERE dao_discourse_id = $1 AND lower(username) = lower($2)`
	row := s.db.QueryRowContext(ctx, q, daoDiscourseID, username)
	var u model.DiscourseUser
	if err := row.Scan(&u.ID, &u.DAODiscourseID, &u.ExternalID, &u.Username, &u.Name, &u.AvatarURL); err != nil {
		if err == sql.ErrNoRows {
			return nil, &errs.NotFound{Entity: "discourse_user", Key: username}
		}
		return nil, &errs.DatabaseError{Op: "FindDiscourseUserByUsername", Cause: err}
	}
	return &u, nil
}
