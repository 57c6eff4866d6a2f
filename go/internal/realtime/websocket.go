package realtime

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketSource reads team broadcasts from the backend gateway
type WebSocketSource struct {
	dialer  *websocket.Dialer
	baseURL string
	// ReconnectWait is the pause between dial attempts after a dropped
	// connection.
	ReconnectWait time.Duration
}

var _ Source = (*WebSocketSource)(nil)

func NewWebSocketSource(baseURL string) *WebSocketSource {
	return &WebSocketSource{
		dialer:        websocket.DefaultDialer,
		baseURL:       baseURL,
		ReconnectWait: 2 * time.Second,
	}
}

func (s *WebSocketSource) endpoint(teamID string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("team_id", teamID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the gateway and keeps the connection alive, redialing on
// failure, until stop is called or ctx ends. The first dial must succeed.
func (s *WebSocketSource) Subscribe(ctx context.Context, teamID string, h Handler) (func(), error) {
	endpoint, err := s.endpoint(teamID)
	if err != nil {
		return nil, err
	}
	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var (
		mu      sync.Mutex
		current = conn
		wg      sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			mu.Lock()
			c := current
			mu.Unlock()
			if c != nil {
				s.readLoop(c, h)
			}
			if ctx.Err() != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.ReconnectWait):
			}

			next, _, err := s.dialer.DialContext(ctx, endpoint, nil)
			if err != nil {
				log.Warn().Err(err).Str("team_id", teamID).Msg("gateway redial failed")
				next = nil
			} else {
				log.Info().Str("team_id", teamID).Msg("gateway reconnected")
			}
			mu.Lock()
			if ctx.Err() != nil && next != nil {
				_ = next.Close()
				next = nil
			}
			current = next
			mu.Unlock()
		}
	}()

	go func() {
		<-ctx.Done()
		mu.Lock()
		if current != nil {
			_ = current.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = current.Close()
		}
		mu.Unlock()
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
	return stop, nil
}

func (s *WebSocketSource) readLoop(conn *websocket.Conn, h Handler) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("gateway connection dropped")
			}
			return
		}
		b, err := Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed broadcast")
			continue
		}
		h(b)
	}
}
