package offline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// State keys persisted next to the queue
const (
	StateLastSyncedAt = "last_synced_at"
	StateRaceAnchor   = "race_anchor"
)

// ErrUnresolvedReference is returned by a Sender when a record points at a
// remote entity that does not exist and never will. Such records are
// dead-lettered instead of retried.
var ErrUnresolvedReference = errors.New("unresolved remote reference")

// Record is one queued change. Payload carries the full entity values at
// enqueue time so it can be replayed without consulting local state.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	Table      string          `json:"table"`
	RemoteID   string          `json:"remote_id,omitempty"`
	EntityID   int             `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

// DeadLetter is a record removed from replay
type DeadLetter struct {
	Record
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Status summarizes the queue for display
type Status struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// FlushResult reports the outcome of a single flush pass
type FlushResult struct {
	Sent         int
	Retained     int
	DeadLettered []DeadLetter
	Errors       []error
}

// Sender replays a queued record against the remote store
type Sender interface {
	Send(ctx context.Context, teamID string, rec Record) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, teamID string, rec Record) error

func (f SenderFunc) Send(ctx context.Context, teamID string, rec Record) error {
	return f(ctx, teamID, rec)
}
