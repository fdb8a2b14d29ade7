package discourse

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

const likesActionID = 2

type postResponse struct {
	PostsCount int `json:"posts_count"`
	PostStream struct {
		Posts []postPayload `json:"posts"`
	} `json:"post_stream"`
}

type postPayload struct {
	ID                 int64  `json:"id"`
	Username           string `json:"username"`
	Version            int    `json:"version"`
	Raw                string `json:"raw"`
	Cooked             string `json:"cooked"`
	CanViewEditHistory bool   `json:"can_view_edit_history"`
	ActionsSummary     []struct {
		ID    int `json:"id"`
		Count int `json:"count"`
	} `json:"actions_summary"`
}

// PostIndexer fetches one topic's posts, per spec §4.8's "Posts" flow.
type PostIndexer struct {
	host   model.DAODiscourse
	client *client
	users  *UserIndexer
	likes  *LikesIndexer
	store  *store.Store
	logger *logging.Logger
}

// NewPostIndexer builds a post refresher for one Discourse host.
func NewPostIndexer(host model.DAODiscourse, c *client, st *store.Store, logger *logging.Logger) *PostIndexer {
	return &PostIndexer{
		host:   host,
		client: c,
		users:  NewUserIndexer(host, c, st, logger),
		likes:  NewLikesIndexer(c, st, logger),
		store:  st,
		logger: logger.Named("discourse.posts").With(zap.String("host", host.BaseURL)),
	}
}

// RunForTopic pages /t/{topicID}.json until every post has been seen,
// upserting each one and marking vanished ones deleted.
func (ix *PostIndexer) RunForTopic(ctx context.Context, topicExternalID int64, priority bool) error {
	topic, err := ix.store.GetDiscourseTopicByExternalID(ctx, ix.host.ID, topicExternalID)
	if err != nil {
		return fmt.Errorf("discourse: resolve topic %d: %w", topicExternalID, err)
	}

	page := 0
	totalCount := 0
	seen := make(map[int64]struct{})

	for {
		path := fmt.Sprintf("/t/%d.json?include_raw=true&page=%d", topicExternalID, page)

		var resp postResponse
		if err := ix.client.getJSON(ctx, path, priority, &resp); err != nil {
			var notFound *errs.NotFound
			if errors.As(err, &notFound) {
				break
			}
			return fmt.Errorf("discourse: fetch posts page %d for topic %d: %w", page, topicExternalID, err)
		}

		if totalCount == 0 {
			totalCount = resp.PostsCount
		}

		for _, p := range resp.PostStream.Posts {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}

			if err := ix.processPost(ctx, topic.ID, p, priority); err != nil {
				ix.logger.Error("failed to process post", zap.Error(err), zap.Int64("post_id", p.ID))
			}
		}

		if len(seen) >= totalCount || len(resp.PostStream.Posts) == 0 {
			break
		}
		page++
	}

	keepIDs := make([]int64, 0, len(seen))
	for id := range seen {
		keepIDs = append(keepIDs, id)
	}
	if err := ix.store.MarkDiscoursePostsDeletedExcept(ctx, topic.ID, keepIDs); err != nil {
		ix.logger.Error("failed to mark vanished posts deleted", zap.Error(err), zap.Int64("topic_id", topicExternalID))
	}

	return nil
}

func (ix *PostIndexer) processPost(ctx context.Context, topicID uuid.UUID, p postPayload, priority bool) error {
	author, err := ix.store.FindDiscourseUserByUsername(ctx, ix.host.ID, p.Username)
	if err != nil {
		author, err = ix.users.FetchUserByUsername(ctx, p.Username, priority)
	}
	if err != nil {
		ix.logger.Warn("failed to resolve post author, using unknown user", zap.Error(err), zap.String("username", p.Username))
		author, err = ix.store.GetOrCreateUnknownUser(ctx, ix.host.ID)
		if err != nil {
			return fmt.Errorf("get or create unknown user: %w", err)
		}
	}

	summaries := make([]model.ActionSummary, 0, len(p.ActionsSummary))
	var likesCount int
	for _, a := range p.ActionsSummary {
		summaries = append(summaries, model.ActionSummary{ActionID: a.ID, Count: a.Count})
		if a.ID == likesActionID {
			likesCount = a.Count
		}
	}

	post := &model.DiscoursePost{
		DAODiscourseID:     ix.host.ID,
		TopicID:            topicID,
		ExternalID:         p.ID,
		UserID:             author.ID,
		Version:            p.Version,
		Raw:                stringPtrIfNonEmpty(p.Raw),
		Cooked:             stringPtrIfNonEmpty(p.Cooked),
		CanViewEditHistory: p.CanViewEditHistory,
		Deleted:            false,
		ActionsSummary:     summaries,
	}

	if err := ix.store.UpsertDiscoursePost(ctx, post); err != nil {
		return fmt.Errorf("upsert post: %w", err)
	}

	if likesCount > post.LikesCount {
		ix.logger.Info("post likes cache is stale, refreshing", zap.Int64("post_id", p.ID), zap.Int("cached", post.LikesCount), zap.Int("live", likesCount))
		if err := ix.likes.FetchAndStoreLikes(ctx, post.ID, p.ID, priority); err != nil {
			ix.logger.Error("failed to refresh post likes", zap.Error(err), zap.Int64("post_id", p.ID))
		}
	}

	return nil
}

func stringPtrIfNonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
