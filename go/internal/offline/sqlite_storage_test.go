package offline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, path string) *SQLiteStorage {
	t.Helper()
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	return s
}

func TestSQLiteStorageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, filepath.Join(t.TempDir(), "relay.db"))
	defer func() {
		require.NoError(t, s.Close())
	}()

	first := Record{ID: uuid.New(), Table: "runners", EntityID: 2, Payload: json.RawMessage(`{"name":"Ana"}`), EnqueuedAt: t0}
	second := Record{ID: uuid.New(), Table: "legs", RemoteID: "leg-1", EntityID: 1, Payload: json.RawMessage(`{"number":1}`), EnqueuedAt: t0}
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, "leg-1", records[1].RemoteID)
	assert.JSONEq(t, `{"number":1}`, string(records[1].Payload))
	assert.Equal(t, t0, records[0].EnqueuedAt)

	require.NoError(t, s.MarkAttempt(ctx, first.ID, 3, "timeout"))
	records, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, "timeout", records[0].LastError)

	require.NoError(t, s.MoveToDeadLetter(ctx, DeadLetter{Record: records[0], Reason: "gone", FailedAt: t0.Add(time.Minute)}))
	dead, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, first.ID, dead[0].ID)
	assert.Equal(t, "gone", dead[0].Reason)

	require.NoError(t, s.Delete(ctx, second.ID))
	assert.True(t, errors.Is(s.Delete(ctx, second.ID), ErrRecordNotFound))

	records, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, ok, err := s.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.SetState(ctx, StateRaceAnchor, "a"))
	require.NoError(t, s.SetState(ctx, StateRaceAnchor, "b"))
	v, ok, err := s.GetState(ctx, StateRaceAnchor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestSQLiteQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")
	clock := clockwork.NewFakeClockAt(t0)

	s := openSQLite(t, path)
	q := NewQueue(s, clock, nil, Config{})
	for i := 1; i <= 3; i++ {
		_, err := q.Enqueue(ctx, Record{Table: "legs", EntityID: i, Payload: json.RawMessage(`{}`)})
		require.NoError(t, err)
	}
	require.NoError(t, q.SetRaceAnchor(ctx, t0))
	require.NoError(t, s.Close())

	s = openSQLite(t, path)
	defer func() {
		require.NoError(t, s.Close())
	}()
	q = NewQueue(s, clock, nil, Config{})

	anchor, err := q.RaceAnchor(ctx)
	require.NoError(t, err)
	assert.Equal(t, t0, anchor)

	sender := &recordingSender{}
	res, err := q.Flush(ctx, "team", sender)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 1, sender.sent[0].EntityID)
	assert.Equal(t, 3, sender.sent[2].EntityID)
}
