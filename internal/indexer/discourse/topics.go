package discourse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/gateway"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

// recentTopicWindow bounds "recent" mode to topics active within the
// last few hours, per spec §4.8.
const recentTopicWindow = 6 * time.Hour

type topicListResponse struct {
	TopicList struct {
		PerPage int `json:"per_page"`
		Topics  []struct {
			ID           int64     `json:"id"`
			Title        string    `json:"title"`
			Slug         string    `json:"slug"`
			CategoryID   int64     `json:"category_id"`
			PostsCount   int       `json:"posts_count"`
			LastPostedAt time.Time `json:"last_posted_at"`
		} `json:"topics"`
	} `json:"topic_list"`
}

// TopicIndexer paginates /latest.json for one Discourse host, upserting
// topics and spawning a post refresh per topic (spec §4.8).
type TopicIndexer struct {
	host   model.DAODiscourse
	recent bool

	client    *client
	posts     *PostIndexer
	revisions *RevisionIndexer
	store     *store.Store
	logger    *logging.Logger
}

// NewTopicIndexer builds a topic indexer for one cadence. recent scopes
// the scan to topics with recent activity and orders by activity
// instead of creation, matching update_recent_topics/update_all_topics.
func NewTopicIndexer(host model.DAODiscourse, recent bool, gw *gateway.Gateway, st *store.Store, logger *logging.Logger) *TopicIndexer {
	c := newClient(host.BaseURL, gw)
	return &TopicIndexer{
		host:      host,
		recent:    recent,
		client:    c,
		posts:     NewPostIndexer(host, c, st, logger),
		revisions: NewRevisionIndexer(host, recent, c, st, logger),
		store:     st,
		logger:    logger.Named("discourse.topics").With(zap.String("host", host.BaseURL)),
	}
}

func (ix *TopicIndexer) MinSpeed() int64 { return 1 }
func (ix *TopicIndexer) MaxSpeed() int64 { return 1 }

func (ix *TopicIndexer) Timeout() time.Duration {
	if ix.recent {
		return 2 * time.Minute
	}
	return 30 * time.Minute
}

// Run pages /latest.json until an empty or short page, upserting every
// topic and refreshing its posts inline.
func (ix *TopicIndexer) Run(ctx context.Context) error {
	orderBy := "created"
	ascending := true
	if ix.recent {
		orderBy = "activity"
		ascending = false
	}

	page := 0
	total := 0
	cutoff := time.Now().Add(-recentTopicWindow)

	for {
		ascParam := ""
		if ascending {
			ascParam = "&ascending=true"
		}
		path := fmt.Sprintf("/latest.json?order=%s%s&page=%d", orderBy, ascParam, page)

		var resp topicListResponse
		if err := ix.client.getJSON(ctx, path, ix.recent, &resp); err != nil {
			var notFound *errs.NotFound
			if errors.As(err, &notFound) {
				break
			}
			return fmt.Errorf("discourse: fetch topics page %d: %w", page, err)
		}

		perPage := resp.TopicList.PerPage
		topics := resp.TopicList.Topics
		stop := false

		for _, t := range topics {
			if ix.recent && t.LastPostedAt.Before(cutoff) {
				stop = true
				break
			}
			total++

			topic := &model.DiscourseTopic{
				DAODiscourseID: ix.host.ID,
				ExternalID:     t.ID,
				Title:          t.Title,
				Slug:           t.Slug,
				CategoryID:     t.CategoryID,
				PostsCount:     t.PostsCount,
				LastPostedAt:   t.LastPostedAt,
			}
			if err := ix.store.UpsertDiscourseTopic(ctx, topic); err != nil {
				ix.logger.Error("failed to upsert topic", zap.Error(err), zap.Int64("topic_id", t.ID))
				continue
			}

			if err := ix.posts.RunForTopic(ctx, t.ID, ix.recent); err != nil {
				ix.logger.Error("failed to refresh posts for topic", zap.Error(err), zap.Int64("topic_id", t.ID))
			}
		}

		if stop || len(topics) == 0 || len(topics) < perPage {
			break
		}
		page++
	}

	if err := ix.revisions.Run(ctx); err != nil {
		ix.logger.Error("failed to refresh revisions", zap.Error(err))
	}

	ix.logger.Info("finished updating topics", zap.Int("total", total))
	return nil
}

