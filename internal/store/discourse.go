package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/model"
	"github.com/lib/pq"
)

// UpsertDiscourseTopic inserts or updates a DiscourseTopic keyed on
// (dao_discourse_id, external_id).
func (s *Store) UpsertDiscourseTopic(ctx context.Context, t *model.DiscourseTopic) error {
	return s.withTx(ctx, "UpsertDiscourseTopic", func(tx *sql.Tx) error {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		const q = `
			INSERT INTO discourse_topics (id, dao_discourse_id, external_id, title, slug, category_id, posts_count, last_posted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (dao_discourse_id, external_id) DO UPDATE SET
				title = EXCLUDED.title,
				slug = EXCLUDED.slug,
				category_id = EXCLUDED.category_id,
				posts_count = EXCLUDED.posts_count,
				last_posted_at = EXCLUDED.last_posted_at
			RETURNING id`
		row := tx.QueryRowContext(ctx, q, t.ID, t.DAODiscourseID, t.ExternalID, t.Title, t.Slug, t.CategoryID, t.PostsCount, t.LastPostedAt)
		if err := row.Scan(&t.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertDiscourseTopic", Cause: err}
		}
		return nil
	})
}

// GetDiscourseTopicByExternalID resolves a topic's internal id, used by
// the grouper's discussion-URL phase (spec §4.11 phase 2).
func (s *Store) GetDiscourseTopicByExternalID(ctx context.Context, daoDiscourseID uuid.UUID, externalID int64) (*model.DiscourseTopic, error) {
	const q = `
		SELECT id, dao_discourse_id, external_id, title, slug, category_id, posts_count, last_posted_at
		FROM discourse_topics WHERE dao_discourse_id = $1 AND external_id = $2`
	row := s.db.QueryRowContext(ctx, q, daoDiscourseID, externalID)
	var t model.DiscourseTopic
	if err := row.Scan(&t.ID, &t.DAODiscourseID, &t.ExternalID, &t.Title, &t.Slug, &t.CategoryID, &t.PostsCount, &t.LastPostedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &errs.NotFound{Entity: "discourse_topic", Key: fmt.Sprintf("%d", externalID)}
		}
		return nil, &errs.DatabaseError{Op: "GetDiscourseTopicByExternalID", Cause: err}
	}
	return &t, nil
}

// UpsertDiscourseUser inserts or updates a DiscourseUser keyed on
// (dao_discourse_id, external_id).
func (s *Store) UpsertDiscourseUser(ctx context.Context, u *model.DiscourseUser) error {
	return s.withTx(ctx, "UpsertDiscourseUser", func(tx *sql.Tx) error {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		const q = `
			INSERT INTO discourse_users (id, dao_discourse_id, external_id, username, name, avatar_url,
				likes_received, likes_given, topics_entered, topic_count, post_count, posts_read, days_visited)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (dao_discourse_id, external_id) DO UPDATE SET
				username = EXCLUDED.username,
				name = EXCLUDED.name,
				avatar_url = EXCLUDED.avatar_url,
				likes_received = EXCLUDED.likes_received,
				likes_given = EXCLUDED.likes_given,
				topics_entered = EXCLUDED.topics_entered,
				topic_count = EXCLUDED.topic_count,
				post_count = EXCLUDED.post_count,
				posts_read = EXCLUDED.posts_read,
				days_visited = EXCLUDED.days_visited
			RETURNING id`
		row := tx.QueryRowContext(ctx, q,
			u.ID, u.DAODiscourseID, u.ExternalID, u.Username, u.Name, u.AvatarURL,
			u.Stats.LikesReceived, u.Stats.LikesGiven, u.Stats.TopicsEntered,
			u.Stats.TopicCount, u.Stats.PostCount, u.Stats.PostsRead, u.Stats.DaysVisited,
		)
		if err := row.Scan(&u.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertDiscourseUser", Cause: err}
		}
		return nil
	})
}

// GetOrCreateUnknownUser returns the per-host "unknown user" placeholder
// (spec §4.4 "A specially named 'unknown user' record"), creating it on
// first use.
func (s *Store) GetOrCreateUnknownUser(ctx context.Context, daoDiscourseID uuid.UUID) (*model.DiscourseUser, error) {
	const unknownExternalID = -1
	const q = `SELECT id, dao_discourse_id, external_id, username, name, avatar_url FROM discourse_users WHERE dao_discourse_id = $1 AND external_id = $2`
	row := s.db.QueryRowContext(ctx, q, daoDiscourseID, unknownExternalID)
	var u model.DiscourseUser
	err := row.Scan(&u.ID, &u.DAODiscourseID, &u.ExternalID, &u.Username, &u.Name, &u.AvatarURL)
	if err == nil {
		return &u, nil
	}
	if err != sql.ErrNoRows {
		return nil, &errs.DatabaseError{Op: "GetOrCreateUnknownUser", Cause: err}
	}

	u = model.DiscourseUser{
		DAODiscourseID: daoDiscourseID,
		ExternalID:     unknownExternalID,
		Username:       "unknown_user",
	}
	if err := s.UpsertDiscourseUser(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertDiscoursePost inserts or updates a DiscoursePost keyed on
// (dao_discourse_id, external_id).
func (s *Store) UpsertDiscoursePost(ctx context.Context, p *model.DiscoursePost) error {
	return s.withTx(ctx, "UpsertDiscoursePost", func(tx *sql.Tx) error {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		const q = `
			INSERT INTO discourse_posts (
				id, dao_discourse_id, topic_id, external_id, user_id, version,
				raw, cooked, can_view_edit_history, deleted, actions_summary
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (dao_discourse_id, external_id) DO UPDATE SET
				version = EXCLUDED.version,
				raw = EXCLUDED.raw,
				cooked = EXCLUDED.cooked,
				can_view_edit_history = EXCLUDED.can_view_edit_history,
				deleted = EXCLUDED.deleted,
				actions_summary = EXCLUDED.actions_summary
			RETURNING id, likes_count`
		row := tx.QueryRowContext(ctx, q,
			p.ID, p.DAODiscourseID, p.TopicID, p.ExternalID, p.UserID, p.Version,
			p.Raw, p.Cooked, p.CanViewEditHistory, p.Deleted, model.ActionSummaries(p.ActionsSummary),
		)
		if err := row.Scan(&p.ID, &p.LikesCount); err != nil {
			return &errs.DatabaseError{Op: "UpsertDiscoursePost", Cause: err}
		}
		return nil
	})
}

// UpdateDiscoursePostLikesCount persists the freshly-fetched likes count
// for one post, following a successful likes refresh.
func (s *Store) UpdateDiscoursePostLikesCount(ctx context.Context, postID uuid.UUID, likesCount int) error {
	const q = `UPDATE discourse_posts SET likes_count = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, postID, likesCount); err != nil {
		return &errs.DatabaseError{Op: "UpdateDiscoursePostLikesCount", Cause: err}
	}
	return nil
}

// MarkDiscoursePostsDeletedExcept flips deleted=true for every post of
// topicID not present in keepExternalIDs — the tail of spec §4.8's
// "Posts" flow (seen_ids ∖ db_ids get deleted=true).
func (s *Store) MarkDiscoursePostsDeletedExcept(ctx context.Context, topicID uuid.UUID, keepExternalIDs []int64) error {
	return s.withTx(ctx, "MarkDiscoursePostsDeletedExcept", func(tx *sql.Tx) error {
		const q = `
			UPDATE discourse_posts SET deleted = true
			WHERE topic_id = $1 AND deleted = false AND NOT (external_id = ANY($2))`
		if _, err := tx.ExecContext(ctx, q, topicID, pq.Array(int64ArrayOrEmpty(keepExternalIDs))); err != nil {
			return &errs.DatabaseError{Op: "MarkDiscoursePostsDeletedExcept", Cause: err}
		}
		return nil
	})
}

// ListDiscoursePostExternalIDs returns every non-deleted post's
// external_id for a topic, used to compute seen_ids ∖ db_ids.
func (s *Store) ListDiscoursePostExternalIDs(ctx context.Context, topicID uuid.UUID) ([]int64, error) {
	const q = `SELECT external_id FROM discourse_posts WHERE topic_id = $1 AND deleted = false`
	rows, err := s.db.QueryContext(ctx, q, topicID)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListDiscoursePostExternalIDs", Cause: err}
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &errs.DatabaseError{Op: "ListDiscoursePostExternalIDs.Scan", Cause: err}
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertDiscoursePostRevision inserts a revision row keyed on (post_id, version).
func (s *Store) UpsertDiscoursePostRevision(ctx context.Context, r *model.DiscoursePostRevision) error {
	return s.withTx(ctx, "UpsertDiscoursePostRevision", func(tx *sql.Tx) error {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		const q = `
			INSERT INTO discourse_post_revisions (id, post_id, version, before_markdown, after_markdown)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (post_id, version) DO UPDATE SET
				before_markdown = EXCLUDED.before_markdown,
				after_markdown = EXCLUDED.after_markdown
			RETURNING id`
		row := tx.QueryRowContext(ctx, q, r.ID, r.PostID, r.Version, r.BeforeMarkdown, r.AfterMarkdown)
		if err := row.Scan(&r.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertDiscoursePostRevision", Cause: err}
		}
		return nil
	})
}

// CountDiscoursePostRevisions returns how many revisions are on file for
// a post, used to decide which r values still need fetching.
func (s *Store) CountDiscoursePostRevisions(ctx context.Context, postID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM discourse_post_revisions WHERE post_id = $1`
	var n int
	if err := s.db.QueryRowContext(ctx, q, postID).Scan(&n); err != nil {
		return 0, &errs.DatabaseError{Op: "CountDiscoursePostRevisions", Cause: err}
	}
	return n, nil
}

// RevisionCandidate is one post whose edit history may be incomplete.
type RevisionCandidate struct {
	PostID     uuid.UUID
	ExternalID int64
	Version    int
}

// ListPostsNeedingRevisions returns posts with an editable history and
// fewer revisions on file than version-1, scoped to one Discourse host
// and optionally to posts touched within recentWindow (recent-mode
// cadence), per update_all_revisions/update_recent_revisions.
func (s *Store) ListPostsNeedingRevisions(ctx context.Context, daoDiscourseID uuid.UUID, recentOnly bool, recentSince sql.NullTime) ([]RevisionCandidate, error) {
	q := `
		SELECT p.id, p.external_id, p.version
		FROM discourse_posts p
		WHERE p.dao_discourse_id = $1
		  AND p.version > 1
		  AND p.can_view_edit_history = true
		  AND p.deleted = false
		  AND (
		      SELECT count(*) FROM discourse_post_revisions r WHERE r.post_id = p.id
		  ) < p.version - 1`
	args := []interface{}{daoDiscourseID}
	if recentOnly && recentSince.Valid {
		q += ` AND p.updated_at >= $2`
		args = append(args, recentSince.Time)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListPostsNeedingRevisions", Cause: err}
	}
	defer rows.Close()

	var out []RevisionCandidate
	for rows.Next() {
		var c RevisionCandidate
		if err := rows.Scan(&c.PostID, &c.ExternalID, &c.Version); err != nil {
			return nil, &errs.DatabaseError{Op: "ListPostsNeedingRevisions.Scan", Cause: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func int64ArrayOrEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
