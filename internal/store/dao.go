package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/model"
)

// UpsertDAO inserts or updates a DAO keyed on slug.
func (s *Store) UpsertDAO(ctx context.Context, d *model.DAO) error {
	return s.withTx(ctx, "UpsertDAO", func(tx *sql.Tx) error {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		const q = `
			INSERT INTO daos (id, slug, name)
			VALUES ($1, $2, $3)
			ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`
		if err := tx.QueryRowContext(ctx, q, d.ID, d.Slug, d.Name).Scan(&d.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertDAO", Cause: err}
		}
		return nil
	})
}

// UpsertGovernor inserts or updates a Governor keyed on (dao_id, kind, contract_address).
func (s *Store) UpsertGovernor(ctx context.Context, g *model.Governor) error {
	return s.withTx(ctx, "UpsertGovernor", func(tx *sql.Tx) error {
		if g.ID == uuid.Nil {
			g.ID = uuid.New()
		}
		const q = `
			INSERT INTO governors (id, dao_id, kind, contract_address, chain, portal_url)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (dao_id, kind, contract_address) DO UPDATE SET
				chain = EXCLUDED.chain,
				portal_url = EXCLUDED.portal_url
			RETURNING id`
		if err := tx.QueryRowContext(ctx, q,
			g.ID, g.DAOID, g.Kind, g.ContractAddress, g.Chain, g.PortalURL,
		).Scan(&g.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertGovernor", Cause: err}
		}
		return nil
	})
}

// UpsertDAODiscourse inserts or updates the one Discourse host binding
// for a DAO, keyed on dao_id.
func (s *Store) UpsertDAODiscourse(ctx context.Context, d *model.DAODiscourse) error {
	return s.withTx(ctx, "UpsertDAODiscourse", func(tx *sql.Tx) error {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		const q = `
			INSERT INTO dao_discourses (id, dao_id, base_url, monitored_category_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (dao_id) DO UPDATE SET
				base_url = EXCLUDED.base_url,
				monitored_category_id = EXCLUDED.monitored_category_id
			RETURNING id`
		if err := tx.QueryRowContext(ctx, q, d.ID, d.DAOID, d.BaseURL, d.MonitoredCategoryID).Scan(&d.ID); err != nil {
			return &errs.DatabaseError{Op: "UpsertDAODiscourse", Cause: err}
		}
		return nil
	})
}

// ListDAODiscourses returns every configured Discourse host binding,
// used by the scheduler to build the discourse job list (spec §4.12).
func (s *Store) ListDAODiscourses(ctx context.Context) ([]model.DAODiscourse, error) {
	const q = `SELECT id, dao_id, base_url, monitored_category_id FROM dao_discourses`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListDAODiscourses", Cause: err}
	}
	defer rows.Close()

	var out []model.DAODiscourse
	for rows.Next() {
		var d model.DAODiscourse
		if err := rows.Scan(&d.ID, &d.DAOID, &d.BaseURL, &d.MonitoredCategoryID); err != nil {
			return nil, &errs.DatabaseError{Op: "ListDAODiscourses.Scan", Cause: err}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDAOs returns every configured DAO, used at startup to resolve
// each governor's parent DAO and wire per-DAO grouper/karma loops.
func (s *Store) ListDAOs(ctx context.Context) ([]model.DAO, error) {
	const q = `SELECT id, slug, name FROM daos`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListDAOs", Cause: err}
	}
	defer rows.Close()

	var out []model.DAO
	for rows.Next() {
		var d model.DAO
		if err := rows.Scan(&d.ID, &d.Slug, &d.Name); err != nil {
			return nil, &errs.DatabaseError{Op: "ListDAOs.Scan", Cause: err}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDAOBySlug loads a DAO by its slug, returning errs.NotFound if absent.
func (s *Store) GetDAOBySlug(ctx context.Context, slug string) (*model.DAO, error) {
	const q = `SELECT id, slug, name FROM daos WHERE slug = $1`
	row := s.db.QueryRowContext(ctx, q, slug)
	var d model.DAO
	if err := row.Scan(&d.ID, &d.Slug, &d.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, &errs.NotFound{Entity: "dao", Key: slug}
		}
		return nil, &errs.DatabaseError{Op: "GetDAOBySlug", Cause: err}
	}
	return &d, nil
}

// ListGovernors returns every configured governor, used by the scheduler
// to build the (DAO, indexer) job list (spec §4.12 step 1).
func (s *Store) ListGovernors(ctx context.Context) ([]model.Governor, error) {
	const q = `SELECT id, dao_id, kind, contract_address, chain, portal_url FROM governors`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "ListGovernors", Cause: err}
	}
	defer rows.Close()

	var out []model.Governor
	for rows.Next() {
		var g model.Governor
		if err := rows.Scan(&g.ID, &g.DAOID, &g.Kind, &g.ContractAddress, &g.Chain, &g.PortalURL); err != nil {
			return nil, &errs.DatabaseError{Op: "ListGovernors.Scan", Cause: err}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// IndexerState is the scheduler-owned (index, speed) pair persisted per
// governor (spec §4.5, §6 "Persisted state layout").
type IndexerState struct {
	GovernorID uuid.UUID
	Index      int64
	Speed      int64
}

// LoadIndexerState reads the persisted index/speed for a governor,
// defaulting to (0, minSpeed) if no row exists yet.
func (s *Store) LoadIndexerState(ctx context.Context, governorID uuid.UUID, minSpeed int64) (IndexerState, error) {
	const q = `SELECT governor_id, index, speed FROM indexer_states WHERE governor_id = $1`
	row := s.db.QueryRowContext(ctx, q, governorID)
	var st IndexerState
	if err := row.Scan(&st.GovernorID, &st.Index, &st.Speed); err != nil {
		if err == sql.ErrNoRows {
			return IndexerState{GovernorID: governorID, Index: 0, Speed: minSpeed}, nil
		}
		return IndexerState{}, &errs.DatabaseError{Op: "LoadIndexerState", Cause: err}
	}
	return st, nil
}

// SaveIndexerState persists the (index, speed) pair. Each indexer calls
// it during its own Run to record the advanced index and its adjusted
// speed; the scheduler calls it again after the run with the speed it
// computes.
func (s *Store) SaveIndexerState(ctx context.Context, st IndexerState) error {
	return s.withTx(ctx, "SaveIndexerState", func(tx *sql.Tx) error {
		const q = `
			INSERT INTO indexer_states (governor_id, index, speed, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (governor_id) DO UPDATE SET
				index = EXCLUDED.index,
				speed = EXCLUDED.speed,
				updated_at = now()`
		if _, err := tx.ExecContext(ctx, q, st.GovernorID, st.Index, st.Speed); err != nil {
			return &errs.DatabaseError{Op: fmt.Sprintf("SaveIndexerState(%s)", st.GovernorID), Cause: err}
		}
		return nil
	})
}
