package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/relay/go/internal/models"
)

var anchor = time.Date(2025, 9, 12, 6, 0, 0, 0, time.UTC)

func threeLegs() ([]models.Leg, []models.Runner) {
	runners := []models.Runner{{ID: 1, Name: "Ana", Pace: 600 * time.Second, Van: models.VanOne}}
	legs := []models.Leg{
		{ID: 1, RunnerID: 1, Distance: 5},
		{ID: 2, RunnerID: 1, Distance: 5},
		{ID: 3, RunnerID: 1, Distance: 5},
	}
	return legs, runners
}

func TestRecalculateChainsFromAnchor(t *testing.T) {
	legs, runners := threeLegs()

	out := Recalculate(legs, anchor, runners)

	require.Len(t, out, 3)
	for i, l := range out {
		require.NotNil(t, l.ProjectedStart, "leg %d", l.ID)
		require.NotNil(t, l.ProjectedFinish, "leg %d", l.ID)
		assert.Equal(t, anchor.Add(time.Duration(i)*3000*time.Second), *l.ProjectedStart)
		assert.Equal(t, anchor.Add(time.Duration(i+1)*3000*time.Second), *l.ProjectedFinish)
	}
}

func TestRecalculateCascadesActualFinish(t *testing.T) {
	legs, runners := threeLegs()
	legs[0].ActualFinish = models.TimePtr(anchor.Add(3000 * time.Second))

	out := Recalculate(legs, anchor, runners)

	assert.Equal(t, anchor.Add(3000*time.Second), *out[1].ProjectedStart)
	assert.Equal(t, anchor.Add(6000*time.Second), *out[2].ProjectedStart)

	// finishing early pulls everything downstream forward
	out[0].ActualFinish = models.TimePtr(anchor.Add(2700 * time.Second))
	out = Recalculate(out, anchor, runners)
	assert.Equal(t, anchor.Add(2700*time.Second), *out[1].ProjectedStart)
	assert.Equal(t, anchor.Add(5700*time.Second), *out[2].ProjectedStart)
}

func TestRecalculateIsIdempotent(t *testing.T) {
	legs, runners := threeLegs()
	legs[1].ActualStart = models.TimePtr(anchor.Add(50 * time.Minute))
	legs[1].ActualFinish = models.TimePtr(anchor.Add(101 * time.Minute))
	legs[2].PaceOverride = models.DurationPtr(9 * time.Minute)

	once := Recalculate(legs, anchor, runners)
	twice := Recalculate(once, anchor, runners)

	assert.Equal(t, once, twice)
}

func TestRecalculateSortsByID(t *testing.T) {
	legs, runners := threeLegs()
	shuffled := []models.Leg{legs[2], legs[0], legs[1]}

	out := Recalculate(shuffled, anchor, runners)

	assert.Equal(t, []int{1, 2, 3}, []int{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, Recalculate(legs, anchor, runners), out)
	assert.Equal(t, 3, shuffled[0].ID, "input order is untouched")
}

func TestRecalculatePaceOverride(t *testing.T) {
	legs, runners := threeLegs()
	legs[0].PaceOverride = models.DurationPtr(500 * time.Second)

	out := Recalculate(legs, anchor, runners)

	assert.Equal(t, anchor.Add(2500*time.Second), *out[0].ProjectedFinish)
	assert.Equal(t, anchor.Add(2500*time.Second), *out[1].ProjectedStart)
}

func TestUnassignedRunnerIsUnknown(t *testing.T) {
	legs, runners := threeLegs()
	legs[1].RunnerID = 0

	out := Recalculate(legs, anchor, runners)

	require.NotNil(t, out[1].ProjectedStart)
	assert.Nil(t, out[1].ProjectedFinish)
	assert.Nil(t, out[2].ProjectedStart, "unknown cascades downstream")
	assert.Nil(t, out[2].ProjectedFinish)

	errs := Errors(legs, anchor, runners)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].LegID)
	assert.ErrorIs(t, errs[0], ErrNoRunner)

	// an actual finish re-anchors the chain
	legs[1].ActualFinish = models.TimePtr(anchor.Add(time.Hour))
	out = Recalculate(legs, anchor, runners)
	require.NotNil(t, out[2].ProjectedStart)
	assert.Equal(t, anchor.Add(time.Hour), *out[2].ProjectedStart)
}

func TestUnassignedLegWithOverrideIsUnknown(t *testing.T) {
	legs, runners := threeLegs()
	anchor := time.Date(2025, 9, 12, 6, 0, 0, 0, time.UTC)
	legs[1].RunnerID = 0
	legs[1].PaceOverride = models.DurationPtr(500 * time.Second)

	out := Recalculate(legs, anchor, runners)
	assert.Nil(t, out[1].ProjectedFinish)
	assert.Nil(t, out[2].ProjectedStart)

	errs := Errors(legs, anchor, runners)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNoRunner)
}

func TestZeroAnchorLeavesFirstLegUnknown(t *testing.T) {
	legs, runners := threeLegs()

	out := Recalculate(legs, time.Time{}, runners)

	for _, l := range out {
		assert.Nil(t, l.ProjectedStart)
	}
	errs := Errors(legs, time.Time{}, runners)
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], ErrNoAnchor)
}

func TestRecalculateDoesNotMutateInput(t *testing.T) {
	legs, runners := threeLegs()
	stale := anchor.Add(-time.Hour)
	legs[0].ProjectedStart = &stale

	_ = Recalculate(legs, anchor, runners)

	assert.Equal(t, stale, *legs[0].ProjectedStart)
}
