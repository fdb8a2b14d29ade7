package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrowSpeedCapsAtMax(t *testing.T) {
	assert.Equal(t, int64(10), growSpeed(9, 10))
}

func TestGrowSpeedAlwaysAdvances(t *testing.T) {
	assert.Equal(t, int64(2), growSpeed(1, 100))
}

func TestShrinkSpeedFloorsAtMin(t *testing.T) {
	assert.Equal(t, int64(5), shrinkSpeed(6, 5))
}

func TestShrinkSpeedHalves(t *testing.T) {
	assert.Equal(t, int64(10), shrinkSpeed(20, 1))
}
