package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/model"
)

// ListMonitoredTopicsWithoutGroup returns every DiscourseTopic under the
// given host's monitored category that is not yet a member of any
// ProposalGroup, the grouper's phase 1 scan target (spec §4.11).
func (s *Store) ListMonitoredTopicsWithoutGroup(ctx context.Context, daoDiscourseID uuid.UUID, monitoredCategoryID int64) ([]model.DiscourseTopic, error) {
	const q = `
		SELECT t.id, t.dao_discourse_id, t.external_id, t.title, t.slug, t.category_id, t.posts_count, t.last_posted_at
		FROM discourse_topics t
		WHERE t.dao_discourse_id = $1
		  AND t.category_id = $2
		  AND NOT EXISTS (
		      SELECT 1 FROM proposal_groups g, jsonb_array_elements(g.items) item
		      WHERE (item->>'kind') = 'topic'
		        AND (item->>'dao_discourse_id')::uuid = t.dao_discourse_id
		        AND (item->>'external_id') = t.external_id::text
		  )`
	rows, err := s.db.QueryContext(ctx, q, daoDiscourseID, monitoredCategoryID)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListMonitoredTopicsWithoutGroup", Cause: err}
	}
	defer rows.Close()

	var out []model.DiscourseTopic
	for rows.Next() {
		var t model.DiscourseTopic
		if err := rows.Scan(&t.ID, &t.DAODiscourseID, &t.ExternalID, &t.Title, &t.Slug, &t.CategoryID, &t.PostsCount, &t.LastPostedAt); err != nil {
			return nil, &errs.DatabaseError{Op: "ListMonitoredTopicsWithoutGroup.Scan", Cause: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateGroup inserts a brand new ProposalGroup with the given items,
// used by the grouper's phase 1 (one topic) and as the fallback when
// phase 3's semantic attach finds no matching group.
func (s *Store) CreateGroup(ctx context.Context, daoID uuid.UUID, items []model.ProposalGroupItem) (*model.ProposalGroup, error) {
	g := &model.ProposalGroup{ID: uuid.New(), DAOID: daoID, Items: items}
	err := s.withTx(ctx, "CreateGroup", func(tx *sql.Tx) error {
		const q = `
			INSERT INTO proposal_groups (id, dao_id, items, representative_embedding)
			VALUES ($1, $2, $3, $4)
			RETURNING id`
		row := tx.QueryRowContext(ctx, q, g.ID, g.DAOID, model.ProposalGroupItems(g.Items), model.Embedding(g.RepresentativeEmbedding))
		if err := row.Scan(&g.ID); err != nil {
			return &errs.DatabaseError{Op: "CreateGroup", Cause: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// FindGroupByItemExternalID returns the group containing an item of the
// given kind and external id within daoID, or errs.NotFound.
func (s *Store) FindGroupByItemExternalID(ctx context.Context, daoID uuid.UUID, kind model.ProposalGroupItemKind, externalID string) (*model.ProposalGroup, error) {
	const q = `
		SELECT g.id, g.dao_id, g.items, g.representative_embedding
		FROM proposal_groups g, jsonb_array_elements(g.items) item
		WHERE g.dao_id = $1
		  AND (item->>'kind') = $2
		  AND (item->>'external_id') = $3
		LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, daoID, string(kind), externalID)
	var g model.ProposalGroup
	var items model.ProposalGroupItems
	var embedding model.Embedding
	if err := row.Scan(&g.ID, &g.DAOID, &items, &embedding); err != nil {
		if err == sql.ErrNoRows {
			return nil, &errs.NotFound{Entity: "proposal_group", Key: externalID}
		}
		return nil, &errs.DatabaseError{Op: "FindGroupByItemExternalID", Cause: err}
	}
	g.Items = []model.ProposalGroupItem(items)
	g.RepresentativeEmbedding = []float64(embedding)
	return &g, nil
}

// ListGroupsForDAO returns every ProposalGroup for daoID, used by the
// grouper's phase 3 to score a candidate against every existing
// representative embedding.
func (s *Store) ListGroupsForDAO(ctx context.Context, daoID uuid.UUID) ([]model.ProposalGroup, error) {
	const q = `SELECT id, dao_id, items, representative_embedding FROM proposal_groups WHERE dao_id = $1`
	rows, err := s.db.QueryContext(ctx, q, daoID)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListGroupsForDAO", Cause: err}
	}
	defer rows.Close()

	var out []model.ProposalGroup
	for rows.Next() {
		var g model.ProposalGroup
		var items model.ProposalGroupItems
		var embedding model.Embedding
		if err := rows.Scan(&g.ID, &g.DAOID, &items, &embedding); err != nil {
			return nil, &errs.DatabaseError{Op: "ListGroupsForDAO.Scan", Cause: err}
		}
		g.Items = []model.ProposalGroupItem(items)
		g.RepresentativeEmbedding = []float64(embedding)
		out = append(out, g)
	}
	return out, rows.Err()
}

// AppendGroupItem appends item to an existing group's ordered item
// list. Never removes or reorders existing items (the grouper must
// never split a group or demote an item).
func (s *Store) AppendGroupItem(ctx context.Context, groupID uuid.UUID, item model.ProposalGroupItem) error {
	return s.withTx(ctx, "AppendGroupItem", func(tx *sql.Tx) error {
		const q = `UPDATE proposal_groups SET items = items || jsonb_build_array($2::jsonb) WHERE id = $1`
		encoded, err := json.Marshal(item)
		if err != nil {
			return &errs.DatabaseError{Op: "AppendGroupItem.Encode", Cause: err}
		}
		if _, err := tx.ExecContext(ctx, q, groupID, string(encoded)); err != nil {
			return &errs.DatabaseError{Op: "AppendGroupItem", Cause: err}
		}
		return nil
	})
}

// UpdateGroupRepresentativeEmbedding overwrites a group's representative
// vector, used after every semantic attach (spec §4.11 phase 3 step 4).
func (s *Store) UpdateGroupRepresentativeEmbedding(ctx context.Context, groupID uuid.UUID, vector []float64) error {
	return s.withTx(ctx, "UpdateGroupRepresentativeEmbedding", func(tx *sql.Tx) error {
		const q = `UPDATE proposal_groups SET representative_embedding = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, q, groupID, model.Embedding(vector)); err != nil {
			return &errs.DatabaseError{Op: "UpdateGroupRepresentativeEmbedding", Cause: err}
		}
		return nil
	})
}
