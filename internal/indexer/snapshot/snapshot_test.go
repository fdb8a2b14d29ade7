package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govindex/engine/internal/model"
)

func TestMapState(t *testing.T) {
	cases := []struct {
		name string
		gp   graphQLProposal
		want model.ProposalState
	}{
		{"active", graphQLProposal{State: "active"}, model.ProposalStateActive},
		{"pending shutter", graphQLProposal{State: "pending", Privacy: "shutter"}, model.ProposalStateHidden},
		{"pending plain", graphQLProposal{State: "pending"}, model.ProposalStatePending},
		{"closed final", graphQLProposal{State: "closed", ScoresState: "final"}, model.ProposalStateExecuted},
		{"closed not final", graphQLProposal{State: "closed", ScoresState: "pending"}, model.ProposalStateDefeated},
		{"unknown", graphQLProposal{State: "weird"}, model.ProposalStateUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, mapState(c.gp))
		})
	}
}

func TestToProposalQuorumChoicesBasic(t *testing.T) {
	gp := graphQLProposal{
		ID:       "0xabc",
		Choices:  []string{"For", "Against", "Abstain"},
		VoteType: "basic",
	}
	p := toProposal(gp, model.Governor{}, model.DAO{})
	assert.Equal(t, []int{0, 2}, p.Metadata.QuorumChoices)
}

func TestToProposalQuorumChoicesRanked(t *testing.T) {
	gp := graphQLProposal{
		ID:       "0xdef",
		Choices:  []string{"A", "B", "C", "D"},
		VoteType: "ranked-choice",
	}
	p := toProposal(gp, model.Governor{}, model.DAO{})
	assert.Equal(t, []int{0, 1, 2, 3}, p.Metadata.QuorumChoices)
}

func TestParseChoiceScalar(t *testing.T) {
	choice, ok := parseChoice(json.RawMessage(`2`))
	require.True(t, ok)
	idx, hasIdx := choice.Index()
	require.True(t, hasIdx)
	assert.Equal(t, 1, idx)
}

func TestParseChoiceList(t *testing.T) {
	choice, ok := parseChoice(json.RawMessage(`[1,2,3]`))
	require.True(t, ok)
	assert.True(t, choice.IsList())
	assert.Equal(t, []int{1, 2, 3}, choice.List)
}

func TestParseChoiceSealedBallotSkipped(t *testing.T) {
	_, ok := parseChoice(json.RawMessage(`"0xabc123deadbeef"`))
	assert.False(t, ok)
}
