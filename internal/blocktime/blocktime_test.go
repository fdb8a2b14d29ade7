package blocktime

import (
	"testing"
	"time"

	"github.com/govindex/engine/internal/chain"
	"github.com/stretchr/testify/assert"
)

func TestExtrapolateUsesConfiguredAverageInterval(t *testing.T) {
	o := &Oracle{}
	before := time.Now().UTC()

	got := o.extrapolate(chain.Ethereum, 100, 110)

	wantMin := before.Add(10 * time.Duration(chain.AverageBlockInterval[chain.Ethereum]) * time.Second)
	assert.False(t, got.Before(wantMin), "expected extrapolated timestamp at least %s ahead, got %s", wantMin, got)
}

func TestExtrapolateFallsBackTo12SecondsForUnknownChain(t *testing.T) {
	o := &Oracle{}
	before := time.Now().UTC()

	got := o.extrapolate("unknown-chain", 100, 105)

	wantMin := before.Add(5 * 12 * time.Second)
	assert.False(t, got.Before(wantMin), "expected fallback 12s/block extrapolation, got %s", got)
}

func TestExtrapolateHandlesZeroBlockGap(t *testing.T) {
	o := &Oracle{}
	before := time.Now().UTC()

	got := o.extrapolate(chain.Polygon, 100, 100)

	assert.False(t, got.Before(before.Add(-time.Second)), "zero block gap should not move timestamp backward")
}
