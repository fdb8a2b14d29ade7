// Package finalizer closes out proposals whose voting window has
// passed, per spec.md §4.10.
package finalizer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

// tickInterval is how often the finalizer scans for proposals to close.
const tickInterval = time.Minute

var defaultQuorumChoices = []int{0, 1}

// Finalizer transitions Active proposals past end_at to Succeeded or
// Defeated based on a quorum/for-against tally over their votes.
type Finalizer struct {
	store  *store.Store
	logger *logging.Logger
}

// New builds a Finalizer.
func New(st *store.Store, logger *logging.Logger) *Finalizer {
	return &Finalizer{store: st, logger: logger.Named("finalizer")}
}

// Run ticks once a minute until ctx is canceled, scanning and closing
// out eligible proposals on each tick.
func (f *Finalizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		if err := f.tick(ctx); err != nil {
			f.logger.Error("finalizer tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Finalizer) tick(ctx context.Context) error {
	now := time.Now().UTC()
	proposals, err := f.store.ListActiveProposalsPastEnd(ctx, now)
	if err != nil {
		return err
	}

	for _, p := range proposals {
		if err := f.finalizeOne(ctx, p); err != nil {
			f.logger.Error("failed to finalize proposal",
				zap.Error(err), zap.String("proposal_id", p.ID.String()))
		}
	}
	return nil
}

func (f *Finalizer) finalizeOne(ctx context.Context, p model.Proposal) error {
	votes, err := f.store.ListVotesForProposal(ctx, p.ID)
	if err != nil {
		return err
	}

	forVotes, againstVotes, quorumVotes := tally(p, votes)

	final := model.ProposalStateDefeated
	if quorumVotes >= p.Quorum && forVotes > againstVotes {
		final = model.ProposalStateSucceeded
	}

	f.logger.Info("finalizing proposal",
		zap.String("proposal_id", p.ID.String()),
		zap.String("state", string(final)),
		zap.Float64("for", forVotes), zap.Float64("against", againstVotes),
		zap.Float64("quorum_votes", quorumVotes), zap.Float64("quorum", p.Quorum))

	return f.store.UpdateProposalState(ctx, p.ID, final)
}

// tally sums voting power into for/against (by choice label substring
// match) and quorum (by quorum_choices membership) buckets.
func tally(p model.Proposal, votes []model.Vote) (forVotes, againstVotes, quorumVotes float64) {
	quorumChoices := p.Metadata.QuorumChoices
	if len(quorumChoices) == 0 {
		quorumChoices = defaultQuorumChoices
	}
	inQuorum := make(map[int]struct{}, len(quorumChoices))
	for _, c := range quorumChoices {
		inQuorum[c] = struct{}{}
	}

	for _, v := range votes {
		idx, ok := v.Choice.Index()
		if !ok {
			continue
		}

		if label := choiceLabel(p.Choices, idx); label != "" {
			switch {
			case strings.Contains(label, "for"):
				forVotes += v.VotingPower
			case strings.Contains(label, "against"):
				againstVotes += v.VotingPower
			}
		}

		if _, ok := inQuorum[idx]; ok {
			quorumVotes += v.VotingPower
		}
	}
	return forVotes, againstVotes, quorumVotes
}

func choiceLabel(choices []string, idx int) string {
	if idx < 0 || idx >= len(choices) {
		return ""
	}
	return strings.ToLower(choices[idx])
}
