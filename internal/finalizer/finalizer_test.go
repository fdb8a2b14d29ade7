package finalizer

import (
	"testing"

	"github.com/govindex/engine/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestTallyForAgainstByLabel(t *testing.T) {
	p := model.Proposal{
		Choices: []string{"For", "Against", "Abstain"},
		Metadata: model.ProposalMetadata{
			QuorumChoices: []int{0, 1, 2},
		},
	}
	votes := []model.Vote{
		{Choice: model.NewScalarChoice(0), VotingPower: 10},
		{Choice: model.NewScalarChoice(1), VotingPower: 4},
		{Choice: model.NewScalarChoice(2), VotingPower: 2},
	}

	forVotes, against, quorum := tally(p, votes)
	assert.Equal(t, 10.0, forVotes)
	assert.Equal(t, 4.0, against)
	assert.Equal(t, 16.0, quorum)
}

func TestTallyDefaultsQuorumChoicesWhenAbsent(t *testing.T) {
	p := model.Proposal{
		Choices: []string{"For", "Against", "Abstain"},
	}
	votes := []model.Vote{
		{Choice: model.NewScalarChoice(2), VotingPower: 100},
	}

	_, _, quorum := tally(p, votes)
	assert.Equal(t, 0.0, quorum, "choice 2 is outside the default [0,1] quorum set")
}

func TestTallyIgnoresVotesWithNoChoice(t *testing.T) {
	p := model.Proposal{Choices: []string{"For", "Against"}}
	votes := []model.Vote{{Choice: model.Choice{}, VotingPower: 50}}

	forVotes, against, quorum := tally(p, votes)
	assert.Zero(t, forVotes)
	assert.Zero(t, against)
	assert.Zero(t, quorum)
}
