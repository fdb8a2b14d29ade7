package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoiceRoundTripsScalar(t *testing.T) {
	c := NewScalarChoice(1)

	raw, err := c.Value()
	require.NoError(t, err)

	var got Choice
	require.NoError(t, got.Scan(raw))

	idx, ok := got.Index()
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.False(t, got.IsList())
}

func TestChoiceRoundTripsList(t *testing.T) {
	c := NewListChoice([]int{2, 0, 1})

	raw, err := c.Value()
	require.NoError(t, err)

	var got Choice
	require.NoError(t, got.Scan(raw))

	assert.True(t, got.IsList())
	idx, ok := got.Index()
	require.True(t, ok)
	assert.Equal(t, 2, idx, "Index() on a list choice returns its first element")
}

func TestEmbeddingValueIsNilForNilSlice(t *testing.T) {
	var e Embedding
	v, err := e.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEmbeddingRoundTrips(t *testing.T) {
	e := Embedding{0.1, 0.2, 0.3}
	raw, err := e.Value()
	require.NoError(t, err)

	var got Embedding
	require.NoError(t, got.Scan(raw))
	assert.Equal(t, e, got)
}

func TestProposalGroupItemsRoundTrips(t *testing.T) {
	gid := uuid.New()
	items := ProposalGroupItems{
		{Kind: ItemKindProposal, GovernorID: &gid, ExternalID: "42", DisplayName: "Proposal 42"},
	}

	raw, err := items.Value()
	require.NoError(t, err)

	var got ProposalGroupItems
	require.NoError(t, got.Scan(raw))
	assert.Equal(t, items, got)
}
