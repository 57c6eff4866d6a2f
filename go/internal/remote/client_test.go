package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/relay/go/internal/models"
)

func newTestServer(t *testing.T, upsertRunners func(*UpsertRunnersRequest) (*UpsertRunnersResponse, error)) *ConnectClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(ProcedureRunnersUpsert, connect.NewUnaryHandler(ProcedureRunnersUpsert,
		func(_ context.Context, req *connect.Request[UpsertRunnersRequest]) (*connect.Response[UpsertRunnersResponse], error) {
			res, err := upsertRunners(req.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(res), nil
		},
		connect.WithCodec(JSONCodec{}),
	))
	mux.Handle(ProcedureLegsList, connect.NewUnaryHandler(ProcedureLegsList,
		func(_ context.Context, req *connect.Request[ListRequest]) (*connect.Response[ListLegsResponse], error) {
			start := "2025-09-12T06:00:00.000Z"
			return connect.NewResponse(&ListLegsResponse{Legs: []LegRecord{
				{ID: "leg-1", Number: 1, RunnerID: "r-1", Distance: 5, ActualStart: &start},
			}}), nil
		},
		connect.WithCodec(JSONCodec{}),
	))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewConnectClient(srv.Client(), srv.URL)
}

func TestConnectClientRoundTrip(t *testing.T) {
	var got *UpsertRunnersRequest
	client := newTestServer(t, func(req *UpsertRunnersRequest) (*UpsertRunnersResponse, error) {
		got = req
		out := req.Runners[0]
		out.ID = "r-1"
		return &UpsertRunnersResponse{Runners: []RunnerRecord{out}}, nil
	})

	res, err := client.UpsertRunners(context.Background(), UpsertRunnersRequest{
		TeamID:   "team-1",
		DeviceID: "device-a",
		Action:   ActionCreate,
		Runners:  []RunnerRecord{{Number: 1, Name: "Ana", PaceSeconds: 600, Van: 1}},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "r-1", res[0].ID)
	assert.Equal(t, "device-a", got.DeviceID)
	assert.Equal(t, ActionCreate, got.Action)

	legs, err := client.ListLegs(context.Background(), ListRequest{TeamID: "team-1"})
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, "r-1", legs[0].RunnerID)
}

func TestConnectClientErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		assert func(t *testing.T, err error)
	}{
		{
			name: "validation",
			err:  connect.NewError(connect.CodeInvalidArgument, errors.New("pace must be positive")),
			assert: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "pace must be positive", ve.Message)
				assert.False(t, IsRetryable(err))
			},
		},
		{
			name: "not found",
			err:  connect.NewError(connect.CodeNotFound, errors.New("runner r-9")),
			assert: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.False(t, IsRetryable(err))
			},
		},
		{
			name: "unavailable",
			err:  connect.NewError(connect.CodeUnavailable, errors.New("db down")),
			assert: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNetwork)
				assert.True(t, IsRetryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(*UpsertRunnersRequest) (*UpsertRunnersResponse, error) {
				return nil, tt.err
			})
			_, err := client.UpsertRunners(context.Background(), UpsertRunnersRequest{Runners: []RunnerRecord{{Number: 1}}})
			require.Error(t, err)
			tt.assert(t, err)
		})
	}
}

func TestConnectClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewConnectClient(http.DefaultClient, url)
	_, err := client.ListRunners(context.Background(), ListRequest{TeamID: "team-1"})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestConvertRoundTrip(t *testing.T) {
	updated := time.Date(2025, 9, 12, 6, 30, 0, 123_000_000, time.UTC)
	leg := models.Leg{
		ID:           2,
		RunnerID:     1,
		Distance:     6.5,
		ActualStart:  models.TimePtr(updated.Add(-time.Hour)),
		PaceOverride: models.DurationPtr(590 * time.Second),
		RemoteID:     "leg-2",
		UpdatedAt:    &updated,
	}

	rec := LegToRecord(leg, "r-1")
	assert.Equal(t, "2025-09-12T06:30:00.123Z", rec.UpdatedAt)
	assert.Nil(t, rec.ActualFinish)

	back, err := rec.ToLeg(map[string]int{"r-1": 1})
	require.NoError(t, err)
	assert.Equal(t, leg, back)

	unassigned, err := rec.ToLeg(nil)
	require.NoError(t, err)
	assert.Zero(t, unassigned.RunnerID)

	runner := models.Runner{ID: 1, Name: "Ana", Pace: 612500 * time.Millisecond, Van: 2, RemoteID: "r-1", UpdatedAt: &updated}
	gotRunner, err := RunnerToRecord(runner).ToRunner()
	require.NoError(t, err)
	assert.Equal(t, runner, gotRunner)

	_, err = RunnerRecord{Number: 1, UpdatedAt: "yesterday"}.ToRunner()
	assert.Error(t, err)
}
