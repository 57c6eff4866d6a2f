package offline

import (
	"context"
	"fmt"
	"time"
)

const stateTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// LastSyncedAt returns the time of the last completed full sync, zero if none.
func (q *Queue) LastSyncedAt(ctx context.Context) (time.Time, error) {
	return q.getTime(ctx, StateLastSyncedAt)
}

func (q *Queue) SetLastSyncedAt(ctx context.Context, at time.Time) error {
	return q.setTime(ctx, StateLastSyncedAt, at)
}

// RaceAnchor returns the persisted race start, zero if none.
func (q *Queue) RaceAnchor(ctx context.Context) (time.Time, error) {
	return q.getTime(ctx, StateRaceAnchor)
}

func (q *Queue) SetRaceAnchor(ctx context.Context, at time.Time) error {
	return q.setTime(ctx, StateRaceAnchor, at)
}

func (q *Queue) getTime(ctx context.Context, key string) (time.Time, error) {
	v, ok, err := q.storage.GetState(ctx, key)
	if err != nil || !ok || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(stateTimeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return t.UTC(), nil
}

func (q *Queue) setTime(ctx context.Context, key string, at time.Time) error {
	v := ""
	if !at.IsZero() {
		v = at.UTC().Format(stateTimeLayout)
	}
	return q.storage.SetState(ctx, key, v)
}
