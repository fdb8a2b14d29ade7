package discourse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

const recentRevisionWindow = time.Hour

type revisionPayload struct {
	BodyChanges struct {
		Inline string `json:"inline"`
	} `json:"body_changes"`
}

// RevisionIndexer backfills post edit history, grounded on
// indexers/revisions.rs's update_all_revisions/update_recent_revisions.
type RevisionIndexer struct {
	host   model.DAODiscourse
	recent bool
	client *client
	store  *store.Store
	logger *logging.Logger
}

// NewRevisionIndexer builds a revision backfiller for one Discourse host.
func NewRevisionIndexer(host model.DAODiscourse, recent bool, c *client, st *store.Store, logger *logging.Logger) *RevisionIndexer {
	return &RevisionIndexer{
		host:   host,
		recent: recent,
		client: c,
		store:  st,
		logger: logger.Named("discourse.revisions").With(zap.String("host", host.BaseURL)),
	}
}

func (ix *RevisionIndexer) MinSpeed() int64 { return 1 }
func (ix *RevisionIndexer) MaxSpeed() int64 { return 1 }

func (ix *RevisionIndexer) Timeout() time.Duration {
	if ix.recent {
		return 2 * time.Minute
	}
	return 15 * time.Minute
}

// Run finds posts whose on-file revision count trails version-1 and
// fetches the missing ones.
func (ix *RevisionIndexer) Run(ctx context.Context) error {
	var since sql.NullTime
	if ix.recent {
		since = sql.NullTime{Time: time.Now().Add(-recentRevisionWindow), Valid: true}
	}

	candidates, err := ix.store.ListPostsNeedingRevisions(ctx, ix.host.ID, ix.recent, since)
	if err != nil {
		return fmt.Errorf("discourse: list revision candidates: %w", err)
	}

	for _, c := range candidates {
		if err := ix.refreshPost(ctx, c); err != nil {
			ix.logger.Error("failed to refresh revisions", zap.Error(err), zap.Int64("post_id", c.ExternalID))
		}
	}

	ix.logger.Info("finished updating revisions", zap.Int("posts", len(candidates)))
	return nil
}

func (ix *RevisionIndexer) refreshPost(ctx context.Context, c store.RevisionCandidate) error {
	have, err := ix.store.CountDiscoursePostRevisions(ctx, c.PostID)
	if err != nil {
		return fmt.Errorf("count revisions: %w", err)
	}
	want := c.Version - 1
	if have >= want {
		return nil
	}

	for rev := have + 2; rev <= c.Version; rev++ {
		path := fmt.Sprintf("/posts/%d/revisions/%d.json", c.ExternalID, rev)

		var payload revisionPayload
		if err := ix.client.getJSON(ctx, path, ix.recent, &payload); err != nil {
			ix.logger.Error("failed to fetch revision", zap.Error(err), zap.Int64("post_id", c.ExternalID), zap.Int("revision", rev))
			continue
		}

		r := &model.DiscoursePostRevision{
			PostID:         c.PostID,
			Version:        rev,
			BeforeMarkdown: extractBeforeMarkdown(payload.BodyChanges.Inline),
			AfterMarkdown:  extractAfterMarkdown(payload.BodyChanges.Inline),
		}
		if err := ix.store.UpsertDiscoursePostRevision(ctx, r); err != nil {
			return fmt.Errorf("upsert revision %d: %w", rev, err)
		}
	}

	return nil
}
