package chain

import (
	"testing"

	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsUnsupportedChainForUnknownTag(t *testing.T) {
	r := &Registry{
		providers: map[string]*Provider{},
		logger:    logging.New("error", "console"),
	}

	_, err := r.Get("solana")
	require.Error(t, err)
	var unsupported *errs.UnsupportedChain
	assert.ErrorAs(t, err, &unsupported)
}

func TestGetReturnsConfiguredProvider(t *testing.T) {
	want := &Provider{Chain: Ethereum}
	r := &Registry{
		providers: map[string]*Provider{Ethereum: want},
		logger:    logging.New("error", "console"),
	}

	got, err := r.Get(Ethereum)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestAverageBlockIntervalCoversEveryChainTag(t *testing.T) {
	for _, tag := range []string{Ethereum, Arbitrum, Optimism, Polygon, Avalanche} {
		_, ok := AverageBlockInterval[tag]
		assert.True(t, ok, "missing average block interval for %s", tag)
	}
}
