package chainwalk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanRangesSplitsIntoMaxSpanPages(t *testing.T) {
	got := PlanRanges(0, 25, 10, 0)
	want := []Range{
		{From: 0, To: 9},
		{From: 10, To: 19},
		{From: 20, To: 25},
	}
	assert.Equal(t, want, got)
}

func TestPlanRangesAppliesConfirmationSafetyMargin(t *testing.T) {
	got := PlanRanges(0, 25, 10, 5)
	want := []Range{
		{From: 0, To: 9},
		{From: 10, To: 19},
		{From: 20, To: 20},
	}
	assert.Equal(t, want, got)
}

func TestPlanRangesReturnsNilWhenNothingIsSafeToScanYet(t *testing.T) {
	got := PlanRanges(100, 102, 10, 5)
	assert.Nil(t, got)
}

func TestPlanRangesDefaultsMaxSpanWhenNonPositive(t *testing.T) {
	got := PlanRanges(0, 1, 0, 0)
	assert.Len(t, got, 1)
	assert.Equal(t, Range{From: 0, To: 1}, got[0])
}

func TestPlanRangesSingleBlockWindow(t *testing.T) {
	got := PlanRanges(50, 50, 2000, 0)
	assert.Equal(t, []Range{{From: 50, To: 50}}, got)
}
