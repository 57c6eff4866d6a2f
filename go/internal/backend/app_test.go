package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/remote"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []events.Broadcast
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, b events.Broadcast) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, b)
	return p.err
}

func (p *recordingPublisher) all() []events.Broadcast {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Broadcast(nil), p.sent...)
}

func newTestApp(t *testing.T) (*App, *recordingPublisher, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 9, 12, 6, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	return NewApp(NewMemoryRepository(), pub, clock), pub, clock
}

func strPtr(s string) *string { return &s }

func TestUpsertRunnersCreateIsIdempotent(t *testing.T) {
	app, pub, _ := newTestApp(t)
	ctx := context.Background()
	req := remote.UpsertRunnersRequest{
		TeamID:   "team-1",
		DeviceID: "device-a",
		Action:   remote.ActionCreate,
		Runners:  []remote.RunnerRecord{{Number: 1, Name: "Ana", PaceSeconds: 600, Van: 1}},
	}

	first, err := app.UpsertRunners(ctx, req)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotEmpty(t, first[0].ID)

	second, err := app.UpsertRunners(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)

	runners, err := app.ListRunners(ctx, remote.ListRequest{TeamID: "team-1"})
	require.NoError(t, err)
	assert.Len(t, runners, 1)

	sent := pub.all()
	require.Len(t, sent, 2)
	assert.Equal(t, BroadcastRunners, sent[0].Type)
	assert.Equal(t, "create", sent[0].Action)
	assert.Equal(t, "device-a", sent[0].DeviceID)
	assert.Equal(t, "2025-09-12T06:00:00.000Z", sent[0].Timestamp)
}

func TestUpsertLegsRejectsUnknownRunner(t *testing.T) {
	app, pub, _ := newTestApp(t)

	_, err := app.UpsertLegs(context.Background(), remote.UpsertLegsRequest{
		TeamID: "team-1",
		Action: remote.ActionCreate,
		Legs:   []remote.LegRecord{{Number: 1, RunnerID: "missing", Distance: 5}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNotFound)
	assert.Empty(t, pub.all())
}

func TestUpsertLegsKeepsNewerStoredRecord(t *testing.T) {
	app, _, _ := newTestApp(t)
	ctx := context.Background()

	_, err := app.UpsertLegs(ctx, remote.UpsertLegsRequest{
		TeamID: "team-1",
		Action: remote.ActionCreate,
		Legs: []remote.LegRecord{{
			ID: "leg-1", Number: 1, Distance: 5,
			ActualStart: strPtr("2025-09-12T06:00:00.000Z"),
			UpdatedAt:   "2025-09-12T06:10:00.000Z",
		}},
	})
	require.NoError(t, err)

	out, err := app.UpsertLegs(ctx, remote.UpsertLegsRequest{
		TeamID: "team-1",
		Action: remote.ActionUpdate,
		Legs: []remote.LegRecord{{
			ID: "leg-1", Number: 1, Distance: 5,
			ActualStart: strPtr("2025-09-12T06:05:00.000Z"),
			UpdatedAt:   "2025-09-12T06:09:00.000Z",
		}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2025-09-12T06:00:00.000Z", *out[0].ActualStart)

	out, err = app.UpsertLegs(ctx, remote.UpsertLegsRequest{
		TeamID: "team-1",
		Action: remote.ActionUpdate,
		Legs: []remote.LegRecord{{
			ID: "leg-1", Number: 1, Distance: 5,
			ActualStart: strPtr("2025-09-12T06:05:00.000Z"),
			UpdatedAt:   "2025-09-12T06:11:00.000Z",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-09-12T06:05:00.000Z", *out[0].ActualStart)
}

func TestUpsertStampsMissingUpdatedAt(t *testing.T) {
	app, _, clock := newTestApp(t)
	clock.Advance(90 * time.Second)

	out, err := app.UpsertRunners(context.Background(), remote.UpsertRunnersRequest{
		TeamID:  "team-1",
		Action:  remote.ActionCreate,
		Runners: []remote.RunnerRecord{{Number: 2, Name: "Ben", PaceSeconds: 540, Van: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-09-12T06:01:30.000Z", out[0].UpdatedAt)
}

func TestUpsertValidation(t *testing.T) {
	app, _, _ := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{
			name: "missing team",
			call: func() error {
				_, err := app.UpsertRunners(ctx, remote.UpsertRunnersRequest{Action: remote.ActionCreate})
				return err
			},
		},
		{
			name: "unknown action",
			call: func() error {
				_, err := app.UpsertRunners(ctx, remote.UpsertRunnersRequest{TeamID: "team-1", Action: "delete"})
				return err
			},
		},
		{
			name: "bad van",
			call: func() error {
				_, err := app.UpsertRunners(ctx, remote.UpsertRunnersRequest{
					TeamID: "team-1", Action: remote.ActionCreate,
					Runners: []remote.RunnerRecord{{Number: 1, PaceSeconds: 600, Van: 3}},
				})
				return err
			},
		},
		{
			name: "finish before start",
			call: func() error {
				_, err := app.UpsertLegs(ctx, remote.UpsertLegsRequest{
					TeamID: "team-1", Action: remote.ActionUpdate,
					Legs: []remote.LegRecord{{
						Number:       1,
						Distance:     5,
						ActualStart:  strPtr("2025-09-12T07:00:00.000Z"),
						ActualFinish: strPtr("2025-09-12T06:00:00.000Z"),
					}},
				})
				return err
			},
		},
		{
			name: "unparseable time",
			call: func() error {
				_, err := app.UpsertLegs(ctx, remote.UpsertLegsRequest{
					TeamID: "team-1", Action: remote.ActionUpdate,
					Legs: []remote.LegRecord{{Number: 1, Distance: 5, ActualStart: strPtr("yesterday")}},
				})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var ve *remote.ValidationError
			assert.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
		})
	}
}

func TestBroadcastFailureDoesNotFailWrite(t *testing.T) {
	app, pub, _ := newTestApp(t)
	pub.err = errors.New("nats down")

	_, err := app.UpsertRunners(context.Background(), remote.UpsertRunnersRequest{
		TeamID:  "team-1",
		Action:  remote.ActionCreate,
		Runners: []remote.RunnerRecord{{Number: 1, Name: "Ana", PaceSeconds: 600, Van: 1}},
	})
	assert.NoError(t, err)
}

func TestServiceOverConnect(t *testing.T) {
	app, _, _ := newTestApp(t)
	mux := http.NewServeMux()
	NewService(app).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := remote.NewConnectClient(srv.Client(), srv.URL)
	ctx := context.Background()

	runners, err := client.UpsertRunners(ctx, remote.UpsertRunnersRequest{
		TeamID:  "team-1",
		Action:  remote.ActionCreate,
		Runners: []remote.RunnerRecord{{Number: 1, Name: "Ana", PaceSeconds: 600, Van: 1}},
	})
	require.NoError(t, err)
	require.Len(t, runners, 1)

	legs, err := client.UpsertLegs(ctx, remote.UpsertLegsRequest{
		TeamID: "team-1",
		Action: remote.ActionCreate,
		Legs:   []remote.LegRecord{{Number: 1, RunnerID: runners[0].ID, Distance: 5.2}},
	})
	require.NoError(t, err)
	require.Len(t, legs, 1)

	listed, err := client.ListLegs(ctx, remote.ListRequest{TeamID: "team-1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, runners[0].ID, listed[0].RunnerID)

	_, err = client.UpsertLegs(ctx, remote.UpsertLegsRequest{
		TeamID: "team-1",
		Action: remote.ActionCreate,
		Legs:   []remote.LegRecord{{Number: 2, RunnerID: "ghost", Distance: 4}},
	})
	assert.ErrorIs(t, err, remote.ErrNotFound)

	_, err = client.UpsertRunners(ctx, remote.UpsertRunnersRequest{TeamID: "team-1", Action: "bogus"})
	var ve *remote.ValidationError
	assert.ErrorAs(t, err, &ve)
}
