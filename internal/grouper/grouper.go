// Package grouper links governance proposals to the Discourse topics
// they were discussed in, producing proposal_groups (spec §4.11).
//
// Three phases run in order on every tick: materialize a group for
// every ungrouped monitored topic, attach proposals whose
// discussion_url deterministically names a topic, then attach whatever
// remains by embedding similarity. A group is only ever grown, never
// split, and an item belongs to at most one group.
package grouper

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/govindex/engine/internal/embeddings"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

const (
	tickInterval      = time.Minute
	similarityFloor   = 0.75
	bodyTruncateChars = 6000
)

// topicURLPattern extracts the numeric topic id from a Discourse
// topic-permalink path: /t/{slug}/{id} or /t/{id}.
var topicURLPattern = regexp.MustCompile(`/t/(?:[^/]+/)?(\d+)`)

// Grouper runs all three attach phases for one DAO's proposals and
// Discourse topics.
type Grouper struct {
	dao       model.DAO
	discourse model.DAODiscourse
	embed     *embeddings.Client
	store     *store.Store
	logger    *logging.Logger
}

// New builds a Grouper scoped to one DAO and its single Discourse host.
func New(dao model.DAO, discourse model.DAODiscourse, embed *embeddings.Client, st *store.Store, logger *logging.Logger) *Grouper {
	return &Grouper{
		dao:       dao,
		discourse: discourse,
		embed:     embed,
		store:     st,
		logger:    logger.Named("grouper").With(zap.String("dao", dao.Slug)),
	}
}

// Run ticks every minute until ctx is canceled, per spec's "runs every
// minute per DAO".
func (g *Grouper) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		if err := g.Tick(ctx); err != nil {
			g.logger.Error("grouper tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs phases 1 through 3 once.
func (g *Grouper) Tick(ctx context.Context) error {
	if err := g.materializeTopicGroups(ctx); err != nil {
		return fmt.Errorf("grouper: phase 1: %w", err)
	}
	if err := g.attachByDiscussionURL(ctx); err != nil {
		return fmt.Errorf("grouper: phase 2: %w", err)
	}
	if err := g.attachBySemanticSimilarity(ctx); err != nil {
		return fmt.Errorf("grouper: phase 3: %w", err)
	}
	return nil
}

// materializeTopicGroups is phase 1: every ungrouped topic in the
// monitored category becomes the sole member of a brand new group.
func (g *Grouper) materializeTopicGroups(ctx context.Context) error {
	topics, err := g.store.ListMonitoredTopicsWithoutGroup(ctx, g.discourse.ID, g.discourse.MonitoredCategoryID)
	if err != nil {
		return err
	}

	for _, t := range topics {
		item := model.ProposalGroupItem{
			Kind:           model.ItemKindTopic,
			DAODiscourseID: &g.discourse.ID,
			ExternalID:     strconv.FormatInt(t.ExternalID, 10),
			DisplayName:    t.Title,
		}
		if _, err := g.store.CreateGroup(ctx, g.dao.ID, []model.ProposalGroupItem{item}); err != nil {
			g.logger.Error("failed to materialize topic group", zap.Error(err), zap.Int64("topic_id", t.ExternalID))
		}
	}
	return nil
}

// attachByDiscussionURL is phase 2: deterministically bind a proposal
// to the group of the topic its discussion_url names.
func (g *Grouper) attachByDiscussionURL(ctx context.Context) error {
	proposals, err := g.store.ListProposalsWithoutGroup(ctx, g.dao.ID)
	if err != nil {
		return err
	}

	for _, p := range proposals {
		if p.DiscussionURL == nil || *p.DiscussionURL == "" {
			continue
		}

		topicExternalID, ok := extractTopicID(*p.DiscussionURL)
		if !ok {
			g.logger.Info("no_topic_match", zap.String("proposal_id", p.ID.String()), zap.String("discussion_url", *p.DiscussionURL))
			continue
		}

		topic, err := g.store.GetDiscourseTopicByExternalID(ctx, g.discourse.ID, topicExternalID)
		if err != nil {
			g.logger.Info("no_topic_match", zap.String("proposal_id", p.ID.String()), zap.Int64("topic_id", topicExternalID))
			continue
		}

		group, err := g.store.FindGroupByItemExternalID(ctx, g.dao.ID, model.ItemKindTopic, strconv.FormatInt(topic.ExternalID, 10))
		if err != nil {
			g.logger.Info("no_topic_match", zap.String("proposal_id", p.ID.String()), zap.Int64("topic_id", topicExternalID))
			continue
		}

		item := model.ProposalGroupItem{
			Kind:        model.ItemKindProposal,
			GovernorID:  &p.GovernorID,
			ExternalID:  p.ExternalID,
			DisplayName: p.Name,
		}
		if err := g.store.AppendGroupItem(ctx, group.ID, item); err != nil {
			g.logger.Error("failed to attach proposal by discussion url", zap.Error(err), zap.String("proposal_id", p.ID.String()))
		}
	}
	return nil
}

// attachBySemanticSimilarity is phase 3: embed every still-unmatched
// proposal and attach it to the closest existing group's representative
// vector, or leave it as a fresh single-item group when nothing clears
// the similarity floor.
func (g *Grouper) attachBySemanticSimilarity(ctx context.Context) error {
	proposals, err := g.store.ListProposalsWithoutGroup(ctx, g.dao.ID)
	if err != nil {
		return err
	}
	if len(proposals) == 0 {
		return nil
	}

	groups, err := g.store.ListGroupsForDAO(ctx, g.dao.ID)
	if err != nil {
		return err
	}

	for _, p := range proposals {
		input := embeddingInput(p)
		vec, err := g.embed.Embed(ctx, input)
		if err != nil {
			g.logger.Error("failed to embed proposal", zap.Error(err), zap.String("proposal_id", p.ID.String()))
			continue
		}

		best, bestScore := bestMatch(groups, vec)
		item := model.ProposalGroupItem{
			Kind:        model.ItemKindProposal,
			GovernorID:  &p.GovernorID,
			ExternalID:  p.ExternalID,
			DisplayName: p.Name,
		}

		if best == nil || bestScore < similarityFloor {
			newGroup, err := g.store.CreateGroup(ctx, g.dao.ID, []model.ProposalGroupItem{item})
			if err != nil {
				g.logger.Error("failed to create group for unmatched proposal", zap.Error(err), zap.String("proposal_id", p.ID.String()))
				continue
			}
			if err := g.store.UpdateGroupRepresentativeEmbedding(ctx, newGroup.ID, vec); err != nil {
				g.logger.Error("failed to set representative embedding", zap.Error(err), zap.String("group_id", newGroup.ID.String()))
			}
			groups = append(groups, model.ProposalGroup{ID: newGroup.ID, DAOID: g.dao.ID, Items: []model.ProposalGroupItem{item}, RepresentativeEmbedding: vec})
			continue
		}

		if err := g.store.AppendGroupItem(ctx, best.ID, item); err != nil {
			g.logger.Error("failed to attach proposal semantically", zap.Error(err), zap.String("proposal_id", p.ID.String()))
			continue
		}

		updated := incrementalMean(best.RepresentativeEmbedding, len(best.Items), vec)
		if err := g.store.UpdateGroupRepresentativeEmbedding(ctx, best.ID, updated); err != nil {
			g.logger.Error("failed to update representative embedding", zap.Error(err), zap.String("group_id", best.ID.String()))
		}
		best.RepresentativeEmbedding = updated
		best.Items = append(best.Items, item)
	}
	return nil
}

// extractTopicID pulls the numeric topic id out of a Discourse
// topic-permalink URL. The URL's host is not checked.
func extractTopicID(discussionURL string) (int64, bool) {
	if !strings.HasPrefix(discussionURL, "http") {
		return 0, false
	}
	m := topicURLPattern.FindStringSubmatch(discussionURL)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// embeddingInput builds the exact embedding input text (spec §4.11
// phase 3 step 1), truncating Body at a whitespace boundary.
func embeddingInput(p model.Proposal) string {
	body := p.Body
	if len(body) > bodyTruncateChars {
		body = body[:bodyTruncateChars]
		if idx := strings.LastIndexAny(body, " \t\n"); idx > 0 {
			body = body[:idx]
		}
	}

	desc := ""
	if p.DiscussionURL != nil {
		desc = *p.DiscussionURL
	}

	return fmt.Sprintf("Title: %s\n\nDescription: %s\n\nBody: %s", p.Name, desc, body)
}

// bestMatch returns the group whose representative embedding is most
// cosine-similar to vec, and that score.
func bestMatch(groups []model.ProposalGroup, vec []float64) (*model.ProposalGroup, float64) {
	var best *model.ProposalGroup
	bestScore := -1.0

	for i := range groups {
		if len(groups[i].RepresentativeEmbedding) == 0 {
			continue
		}
		score := cosineSimilarity(groups[i].RepresentativeEmbedding, vec)
		if score > bestScore {
			bestScore = score
			best = &groups[i]
		}
	}
	return best, bestScore
}

// cosineSimilarity is unexported: no library in the retrieved pack
// offers vector similarity over plain []float64, so this is the one
// piece of the grouper implemented directly against the standard
// library math package rather than a third-party dependency.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// incrementalMean folds vec into rep, the mean of priorCount existing
// vectors, without recomputing the mean from scratch (spec §4.11 phase
// 3 step 4).
func incrementalMean(rep []float64, priorCount int, vec []float64) []float64 {
	if len(rep) == 0 || priorCount == 0 {
		return vec
	}
	out := make([]float64, len(rep))
	n := float64(priorCount)
	for i := range rep {
		out[i] = (rep[i]*n + vec[i]) / (n + 1)
	}
	return out
}
