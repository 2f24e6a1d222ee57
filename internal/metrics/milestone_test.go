package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/model"
)

func testLadder() []model.Milestone {
	return []model.Milestone{
		{Threshold: model.AmountFromCents(1_000), Label: "ten"},
		{Threshold: model.AmountFromCents(10_000), Label: "hundred"},
		{Threshold: model.AmountFromCents(100_000), Label: "thousand"},
	}
}

func TestMilestoneDetectorFiresInAscendingOrder(t *testing.T) {
	d := NewMilestoneDetector(testLadder(), nil)

	// A single jump past two rungs emits both, smallest first.
	events := d.Check(model.AmountFromCents(15_000))
	require.Len(t, events, 2)
	assert.Equal(t, "ten", events[0].Milestone.Label)
	assert.Equal(t, "hundred", events[1].Milestone.Label)
	assert.Equal(t, model.AmountFromCents(15_000), events[0].Total)
	assert.False(t, events[0].ReachedAt.IsZero())
}

func TestMilestoneDetectorFiresOnce(t *testing.T) {
	d := NewMilestoneDetector(testLadder(), nil)

	require.Len(t, d.Check(model.AmountFromCents(1_000)), 1)
	// Same total again, nothing new.
	assert.Empty(t, d.Check(model.AmountFromCents(1_000)))
	// A drop below the threshold never re-arms it.
	assert.Empty(t, d.Check(model.AmountFromCents(500)))
	assert.Empty(t, d.Check(model.AmountFromCents(9_999)))

	events := d.Check(model.AmountFromCents(10_000))
	require.Len(t, events, 1)
	assert.Equal(t, "hundred", events[0].Milestone.Label)
}

func TestMilestoneDetectorBelowFirstRung(t *testing.T) {
	d := NewMilestoneDetector(testLadder(), nil)
	assert.Empty(t, d.Check(model.AmountFromCents(999)))
}

func TestMilestoneDetectorUnsortedLadder(t *testing.T) {
	ladder := []model.Milestone{
		{Threshold: model.AmountFromCents(100_000), Label: "thousand"},
		{Threshold: model.AmountFromCents(1_000), Label: "ten"},
	}
	d := NewMilestoneDetector(ladder, nil)

	events := d.Check(model.AmountFromCents(200_000))
	require.Len(t, events, 2)
	assert.Equal(t, "ten", events[0].Milestone.Label)
	assert.Equal(t, "thousand", events[1].Milestone.Label)
}

func TestMilestoneDetectorPreMarked(t *testing.T) {
	// Thresholds restored from the persisted aggregate do not re-fire.
	d := NewMilestoneDetector(testLadder(), []model.Amount{
		model.AmountFromCents(1_000),
		model.AmountFromCents(10_000),
	})

	events := d.Check(model.AmountFromCents(150_000))
	require.Len(t, events, 1)
	assert.Equal(t, "thousand", events[0].Milestone.Label)
}

func TestMilestoneDetectorReset(t *testing.T) {
	d := NewMilestoneDetector(testLadder(), nil)

	require.Len(t, d.Check(model.AmountFromCents(10_000)), 2)
	assert.Empty(t, d.Check(model.AmountFromCents(10_000)))

	d.Reset()
	// All rungs are armed again after the administrative reset.
	assert.Len(t, d.Check(model.AmountFromCents(10_000)), 2)
}
