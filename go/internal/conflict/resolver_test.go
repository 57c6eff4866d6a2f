package conflict

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/relay/go/internal/models"
)

var t0 = time.Date(2025, 9, 12, 6, 0, 0, 0, time.UTC)

func newResolver() *Resolver {
	return NewResolver(time.Minute, clockwork.NewFakeClockAt(t0))
}

func leg(id int, updated time.Time, finish *time.Time) models.Leg {
	return models.Leg{ID: id, RunnerID: 1, Distance: 5, ActualFinish: finish, UpdatedAt: models.TimePtr(updated)}
}

func TestNewerIncomingWins(t *testing.T) {
	r := newResolver()
	local := []models.Leg{leg(1, t0, nil)}
	incoming := []models.Leg{leg(1, t0.Add(time.Second), models.TimePtr(t0.Add(30*time.Minute)))}

	res := r.MergeLegs(incoming, local)

	require.Empty(t, res.Conflicts)
	require.Len(t, res.Merged, 1)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, t0.Add(30*time.Minute), *res.Merged[0].ActualFinish)
}

func TestOlderOrEqualIncomingLoses(t *testing.T) {
	r := newResolver()
	local := []models.Leg{leg(1, t0.Add(time.Second), models.TimePtr(t0.Add(30*time.Minute)))}

	for _, updated := range []time.Time{t0, t0.Add(time.Second)} {
		incoming := []models.Leg{leg(1, updated, models.TimePtr(t0.Add(45*time.Minute)))}
		res := r.MergeLegs(incoming, local)

		assert.Empty(t, res.Conflicts)
		assert.Zero(t, res.Accepted)
		assert.Equal(t, t0.Add(30*time.Minute), *res.Merged[0].ActualFinish)
	}
}

func TestLocalWithoutTimestampLoses(t *testing.T) {
	r := newResolver()
	local := []models.Leg{{ID: 1, RunnerID: 1, Distance: 5}}
	incoming := []models.Leg{{ID: 1, RunnerID: 2, Distance: 6}}

	res := r.MergeLegs(incoming, local)
	assert.Equal(t, 2, res.Merged[0].RunnerID)
}

func TestUnknownIncomingIsAdded(t *testing.T) {
	r := newResolver()
	res := r.MergeLegs([]models.Leg{leg(4, t0, nil)}, []models.Leg{leg(1, t0, nil)})

	require.Len(t, res.Merged, 2)
	assert.Equal(t, []int{1, 4}, []int{res.Merged[0].ID, res.Merged[1].ID})
}

func TestConflictThresholdBoundary(t *testing.T) {
	finish := t0.Add(30 * time.Minute)
	tests := []struct {
		name     string
		delta    time.Duration
		conflict bool
	}{
		{name: "identical", delta: 0},
		{name: "within tolerance", delta: 5 * time.Second},
		{name: "exactly tolerance", delta: time.Minute},
		{name: "exactly tolerance earlier", delta: -time.Minute},
		{name: "tolerance plus one millisecond", delta: time.Minute + time.Millisecond, conflict: true},
		{name: "tolerance plus one millisecond earlier", delta: -time.Minute - time.Millisecond, conflict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver()
			local := []models.Leg{leg(1, t0, models.TimePtr(finish))}
			incoming := []models.Leg{leg(1, t0.Add(time.Second), models.TimePtr(finish.Add(tt.delta)))}

			res := r.MergeLegs(incoming, local)

			if !tt.conflict {
				assert.Empty(t, res.Conflicts)
				assert.Equal(t, finish.Add(tt.delta), *res.Merged[0].ActualFinish)
				return
			}
			require.Len(t, res.Conflicts, 1)
			c := res.Conflicts[0]
			assert.Equal(t, TypeTiming, c.Type)
			assert.Equal(t, models.TimingFieldFinish, c.Field)
			assert.Equal(t, finish, *c.LocalValue())
			assert.Equal(t, finish.Add(tt.delta), *c.IncomingValue())
			assert.Equal(t, finish, *res.Merged[0].ActualFinish, "local value retained")
			assert.Zero(t, res.Accepted)
		})
	}
}

func TestConflictOnBothFields(t *testing.T) {
	r := newResolver()
	local := leg(1, t0, models.TimePtr(t0.Add(30*time.Minute)))
	local.ActualStart = models.TimePtr(t0)
	incoming := leg(1, t0.Add(time.Second), models.TimePtr(t0.Add(40*time.Minute)))
	incoming.ActualStart = models.TimePtr(t0.Add(5 * time.Minute))

	res := r.MergeLegs([]models.Leg{incoming}, []models.Leg{local})

	require.Len(t, res.Conflicts, 2)
	assert.Equal(t, models.TimingFieldStart, res.Conflicts[0].Field)
	assert.Equal(t, models.TimingFieldFinish, res.Conflicts[1].Field)
}

func TestNullOnOneSideIsNotAConflict(t *testing.T) {
	r := newResolver()
	local := []models.Leg{leg(1, t0, nil)}
	incoming := []models.Leg{leg(1, t0.Add(time.Second), models.TimePtr(t0.Add(3*time.Hour)))}

	res := r.MergeLegs(incoming, local)
	assert.Empty(t, res.Conflicts)
}

func TestIncomingWithoutRemoteIDKeepsLocalOne(t *testing.T) {
	r := newResolver()
	local := leg(1, t0, nil)
	local.RemoteID = "abc"
	res := r.MergeLegs([]models.Leg{leg(1, t0.Add(time.Second), nil)}, []models.Leg{local})

	assert.Equal(t, "abc", res.Merged[0].RemoteID)
}

func TestMergeRunners(t *testing.T) {
	r := newResolver()
	local := []models.Runner{
		{ID: 1, Name: "Ana", Pace: time.Minute, Van: 1, UpdatedAt: models.TimePtr(t0)},
		{ID: 2, Name: "Ben", Pace: time.Minute, Van: 2, UpdatedAt: models.TimePtr(t0.Add(time.Hour))},
	}
	incoming := []models.Runner{
		{ID: 1, Name: "Ana M.", Pace: time.Minute, Van: 1, RemoteID: "r1", UpdatedAt: models.TimePtr(t0.Add(time.Minute))},
		{ID: 2, Name: "stale", Pace: time.Minute, Van: 2, RemoteID: "r2", UpdatedAt: models.TimePtr(t0)},
	}

	res := r.MergeRunners(incoming, local)

	require.Len(t, res.Merged, 2)
	assert.Equal(t, "Ana M.", res.Merged[0].Name)
	assert.Equal(t, "Ben", res.Merged[1].Name)
	assert.Equal(t, 1, res.Accepted)
}

func TestEndToEndWithinToleranceFollowsTimestamps(t *testing.T) {
	// Device A recorded T0+1800s, device B independently recorded T0+1805s
	r := newResolver()
	deviceA := leg(1, t0.Add(31*time.Minute), models.TimePtr(t0.Add(1800*time.Second)))
	deviceA.ActualStart = models.TimePtr(t0)
	deviceB := leg(1, t0.Add(32*time.Minute), models.TimePtr(t0.Add(1805*time.Second)))

	// B is newer: A's merge of B's record accepts it
	res := r.MergeLegs([]models.Leg{deviceB}, []models.Leg{deviceA})
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, t0.Add(1805*time.Second), *res.Merged[0].ActualFinish)

	// B merging A's older record keeps its own
	res = r.MergeLegs([]models.Leg{deviceA}, []models.Leg{deviceB})
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, t0.Add(1805*time.Second), *res.Merged[0].ActualFinish)
}

func TestLocalWinnerAdoptsIncomingRemoteID(t *testing.T) {
	r := newResolver()
	local := []models.Runner{{ID: 1, Name: "Ana", Pace: 610 * time.Second, Van: models.VanOne, UpdatedAt: models.TimePtr(t0.Add(time.Minute))}}
	incoming := []models.Runner{{ID: 1, Name: "Ana", Pace: 600 * time.Second, Van: models.VanOne, RemoteID: "runner-a", UpdatedAt: models.TimePtr(t0)}}

	res := r.MergeRunners(incoming, local)

	require.Len(t, res.Merged, 1)
	assert.Zero(t, res.Accepted)
	assert.Equal(t, 610*time.Second, res.Merged[0].Pace, "newer local edit wins")
	assert.Equal(t, "runner-a", res.Merged[0].RemoteID)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "runner-a", res.Changed[0].RemoteID)
}
