package governor

import (
	"math/big"
	"testing"

	"github.com/govindex/engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRemapChoiceMatchesOriginalArbitrumIndexerMapping(t *testing.T) {
	assert.Equal(t, 1, remapChoice(0), "chain Against(0) must map to canonical Against(1)")
	assert.Equal(t, 0, remapChoice(1), "chain For(1) must map to canonical For(0)")
	assert.Equal(t, 2, remapChoice(2), "Abstain(2) is identity-mapped")
	assert.Equal(t, 2, remapChoice(99), "unknown support codes default to Abstain")
}

func TestMapProposalStateCoversEveryChainCode(t *testing.T) {
	cases := map[uint8]model.ProposalState{
		chainStatePending:   model.ProposalStatePending,
		chainStateActive:    model.ProposalStateActive,
		chainStateCanceled:  model.ProposalStateCanceled,
		chainStateDefeated:  model.ProposalStateDefeated,
		chainStateSucceeded: model.ProposalStateSucceeded,
		chainStateQueued:    model.ProposalStateQueued,
		chainStateExpired:   model.ProposalStateExpired,
		chainStateExecuted:  model.ProposalStateExecuted,
	}
	for code, want := range cases {
		assert.Equal(t, want, mapProposalState(code))
	}
	assert.Equal(t, model.ProposalStateUnknown, mapProposalState(200))
}

func TestWeiToFloatDividesByEighteenDecimals(t *testing.T) {
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.InDelta(t, 1.5, weiToFloat(wei), 0.0000001)
}

func TestQuorumFloatDividesByEighteenDecimals(t *testing.T) {
	d := decimal.NewFromInt(2000000000000000000)
	assert.InDelta(t, 2.0, quorumFloat(d), 0.0000001)
}

func TestClampBoundsToRange(t *testing.T) {
	assert.Equal(t, int64(minSpeed), clamp(0, minSpeed, maxSpeed))
	assert.Equal(t, int64(maxSpeed), clamp(maxSpeed+1000, minSpeed, maxSpeed))
	assert.Equal(t, int64(500), clamp(500, minSpeed, maxSpeed))
}

func TestProposalTitleTakesFirstLineStrippingMarkdownHeader(t *testing.T) {
	assert.Equal(t, "Upgrade Treasury", proposalTitle("# Upgrade Treasury\n\nBody text follows."))
	assert.Equal(t, "Single line proposal", proposalTitle("Single line proposal"))
}

func TestProposalTitleTruncatesLongSingleLineDescriptions(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	got := proposalTitle(long)
	assert.Len(t, got, 120)
}
