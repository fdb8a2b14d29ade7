package discourse

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/store"
)

// postActionUsersResponse mirrors Discourse's /post_action_users.json,
// which lists the accounts that performed a given post_action_type_id
// (2 is "like", matching the actions_summary action_id taxonomy).
type postActionUsersResponse struct {
	PostActionUsers []struct {
		ID int64 `json:"id"`
	} `json:"post_action_users"`
}

// LikesIndexer refreshes the cached like count for individual posts,
// grounded on posts.rs's fetch_and_store_likes: posts.go calls a
// refresh inline whenever its cached count falls behind actions_summary's.
type LikesIndexer struct {
	client *client
	store  *store.Store
	logger *logging.Logger
}

// NewLikesIndexer builds a likes refresher for one Discourse host.
func NewLikesIndexer(c *client, st *store.Store, logger *logging.Logger) *LikesIndexer {
	return &LikesIndexer{
		client: c,
		store:  st,
		logger: logger.Named("discourse.likes"),
	}
}

// FetchAndStoreLikes resolves postExternalID's current liker list and
// persists its length as the post's cached likes count.
func (ix *LikesIndexer) FetchAndStoreLikes(ctx context.Context, postID uuid.UUID, postExternalID int64, priority bool) error {
	path := fmt.Sprintf("/post_action_users.json?id=%d&post_action_type_id=%d", postExternalID, likesActionID)

	var resp postActionUsersResponse
	if err := ix.client.getJSON(ctx, path, priority, &resp); err != nil {
		return fmt.Errorf("discourse: fetch likes for post %d: %w", postExternalID, err)
	}

	if err := ix.store.UpdateDiscoursePostLikesCount(ctx, postID, len(resp.PostActionUsers)); err != nil {
		return fmt.Errorf("discourse: store likes for post %d: %w", postExternalID, err)
	}

	ix.logger.Debug("refreshed post likes", zap.Int64("post_id", postExternalID), zap.Int("likes", len(resp.PostActionUsers)))
	return nil
}
