package grouper

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestExtractTopicIDWithSlug(t *testing.T) {
	id, ok := extractTopicID("https://forum.example.org/t/some-proposal-title/4821")
	assert.True(t, ok)
	assert.Equal(t, int64(4821), id)
}

func TestExtractTopicIDBare(t *testing.T) {
	id, ok := extractTopicID("https://forum.example.org/t/4821")
	assert.True(t, ok)
	assert.Equal(t, int64(4821), id)
}

func TestExtractTopicIDRejectsNonURL(t *testing.T) {
	_, ok := extractTopicID("not a url")
	assert.False(t, ok)
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float64{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
}

func TestCosineSimilarityMismatchedLengths(t *testing.T) {
	assert.Zero(t, cosineSimilarity([]float64{1, 2}, []float64{1}))
}

func TestIncrementalMeanFoldsNewVector(t *testing.T) {
	rep := []float64{2, 4}
	out := incrementalMean(rep, 1, []float64{4, 8})
	assert.InDeltaSlice(t, []float64{3, 6}, out, 1e-9)
}

func TestIncrementalMeanFirstVectorIsRepresentative(t *testing.T) {
	out := incrementalMean(nil, 0, []float64{1, 2, 3})
	assert.Equal(t, []float64{1, 2, 3}, out)
}

func TestEmbeddingInputTruncatesAtWhitespace(t *testing.T) {
	body := strings.Repeat("word ", 2000)
	p := model.Proposal{Name: "Upgrade Treasury", Body: body}

	input := embeddingInput(p)
	assert.Less(t, len(input), len(body))
	assert.Contains(t, input, "Title: Upgrade Treasury")
	assert.False(t, strings.HasSuffix(input, " "), "truncation must land on a whitespace boundary, not mid-word")
}

func TestBestMatchSkipsGroupsWithoutEmbedding(t *testing.T) {
	groups := []model.ProposalGroup{
		{ID: uuid.New(), RepresentativeEmbedding: nil},
		{ID: uuid.New(), RepresentativeEmbedding: []float64{1, 0}},
	}
	best, score := bestMatch(groups, []float64{1, 0})
	assert.NotNil(t, best)
	assert.InDelta(t, 1.0, score, 1e-9)
}
