package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/realtime"
)

func startGateway(t *testing.T) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cm.Start(ctx)

	mux := http.NewServeMux()
	NewWebSocketHandler(cm).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return cm, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/team"
}

func waitForConnections(t *testing.T, cm *ConnectionManager, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cm.Stats().TotalConnections == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastReachesOnlyTeamDevices(t *testing.T) {
	cm, srv := startGateway(t)

	teamA, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?team_id=team-a&device_id=d1", nil)
	require.NoError(t, err)
	defer teamA.Close()
	teamB, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?team_id=team-b&device_id=d2", nil)
	require.NoError(t, err)
	defer teamB.Close()
	waitForConnections(t, cm, 2)

	err = cm.Publish(context.Background(), "team-a", events.Broadcast{
		Type: "legs", Action: "update", DeviceID: "d9", Timestamp: "2025-09-12T06:00:00.000Z",
	})
	require.NoError(t, err)

	teamA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := teamA.ReadMessage()
	require.NoError(t, err)
	b, err := realtime.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "legs", b.Type)
	assert.Equal(t, "d9", b.DeviceID)

	teamB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = teamB.ReadMessage()
	assert.Error(t, err)
}

func TestTeamIDRequired(t *testing.T) {
	_, srv := startGateway(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisconnectUnregisters(t *testing.T) {
	cm, srv := startGateway(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?team_id=team-a", nil)
	require.NoError(t, err)
	waitForConnections(t, cm, 1)
	assert.Equal(t, 1, cm.Stats().TeamConnections["team-a"])

	conn.Close()
	waitForConnections(t, cm, 0)
	assert.Equal(t, 0, cm.Stats().ActiveTeams)
}

type fakeTeamSource struct {
	mu sync.Mutex
	h  realtime.TeamHandler
}

func (f *fakeTeamSource) SubscribeAll(_ context.Context, h realtime.TeamHandler) (func(), error) {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
	return func() {}, nil
}

func TestForwardRelaysSourceBroadcasts(t *testing.T) {
	cm, srv := startGateway(t)
	source := &fakeTeamSource{}
	stop, err := cm.Forward(context.Background(), source)
	require.NoError(t, err)
	defer stop()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?team_id=team-a", nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForConnections(t, cm, 1)

	source.h("team-a", events.Broadcast{Type: "runners", Action: "create", DeviceID: "d1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	b, err := realtime.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "runners", b.Type)
}
