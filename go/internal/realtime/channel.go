package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/relay/go/internal/events"
)

// Handler receives decoded broadcasts
type Handler func(events.Broadcast)

// Publisher pushes a broadcast to every device of a team
type Publisher interface {
	Publish(ctx context.Context, teamID string, b events.Broadcast) error
}

// Source delivers a team's broadcasts until the returned stop func is called
// or ctx ends.
type Source interface {
	Subscribe(ctx context.Context, teamID string, h Handler) (stop func(), err error)
}

// TeamHandler receives broadcasts for any team
type TeamHandler func(teamID string, b events.Broadcast)

// TeamSource delivers the broadcasts of every team, for relays that serve many
// teams at once.
type TeamSource interface {
	SubscribeAll(ctx context.Context, h TeamHandler) (stop func(), err error)
}

// Encode serializes a broadcast for the wire
func Encode(b events.Broadcast) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast: %w", err)
	}
	return data, nil
}

// Decode parses a broadcast and rejects payloads without a type
func Decode(data []byte) (events.Broadcast, error) {
	var b events.Broadcast
	if err := json.Unmarshal(data, &b); err != nil {
		return events.Broadcast{}, fmt.Errorf("unmarshal broadcast: %w", err)
	}
	if b.Type == "" {
		return events.Broadcast{}, fmt.Errorf("broadcast without type")
	}
	return b, nil
}

// MultiPublisher fans a broadcast out to several publishers. Every publisher
// is attempted; the first error is returned.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, teamID string, b events.Broadcast) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, teamID, b); err != nil && first == nil {
			first = err
		}
	}
	return first
}
