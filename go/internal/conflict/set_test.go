package conflict

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/relay/go/internal/models"
)

func record(legID int, field models.TimingField) Record {
	return Record{ID: uuid.New(), Type: TypeTiming, LegID: legID, Field: field}
}

func TestSetReplacesSameLegAndField(t *testing.T) {
	s := NewSet()

	first := record(2, models.TimingFieldFinish)
	assert.Equal(t, 1, s.Add(first))
	assert.Equal(t, 0, s.Add(record(2, models.TimingFieldFinish)))
	assert.Equal(t, 1, s.Add(record(2, models.TimingFieldStart)))

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get(first.ID)
	assert.False(t, ok)
}

func TestSetPendingOrder(t *testing.T) {
	s := NewSet()
	s.Add(record(3, models.TimingFieldStart), record(1, models.TimingFieldStart), record(1, models.TimingFieldFinish))

	pending := s.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, 1, pending[0].LegID)
	assert.Equal(t, models.TimingFieldFinish, pending[0].Field)
	assert.Equal(t, 3, pending[2].LegID)
}

func TestSetTakeAndSkip(t *testing.T) {
	s := NewSet()
	a, b := record(1, models.TimingFieldStart), record(2, models.TimingFieldStart)
	s.Add(a, b)

	got, err := s.Take(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = s.Take(a.ID)
	assert.ErrorIs(t, err, ErrConflictNotFound)

	require.NoError(t, s.Skip(b.ID))
	assert.Zero(t, s.Len())
}

func TestDecisionChosenValue(t *testing.T) {
	local := models.Leg{ID: 1, ActualFinish: models.TimePtr(t0)}
	incoming := models.Leg{ID: 1, ActualFinish: models.TimePtr(t0.Add(5 * time.Minute))}
	rec := Record{LegID: 1, Field: models.TimingFieldFinish, Local: local, Incoming: incoming}

	v, err := Decision{Action: ActionAcceptIncoming}.ChosenValue(rec)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), *v)

	v, err = Decision{Action: ActionKeepLocal}.ChosenValue(rec)
	require.NoError(t, err)
	assert.Equal(t, t0, *v)

	manual := t0.Add(2 * time.Minute)
	v, err = Decision{Action: ActionManual, Value: &manual}.ChosenValue(rec)
	require.NoError(t, err)
	assert.Equal(t, manual, *v)

	_, err = Decision{Action: ActionManual}.ChosenValue(rec)
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = Decision{Action: "coin_flip"}.ChosenValue(rec)
	assert.ErrorIs(t, err, ErrInvalidDecision)
}
