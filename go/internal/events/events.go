package events

import (
	"time"

	"github.com/mcdev12/relay/go/internal/models"
)

// Type identifies an event variant
type Type string

const (
	TypeLegTimeChanged       Type = "LegTimeChanged"
	TypeLegUpdated           Type = "LegUpdated"
	TypeRunnerUpdated        Type = "RunnerUpdated"
	TypeRaceAnchorChanged    Type = "RaceAnchorChanged"
	TypeEntityNotFound       Type = "EntityNotFound"
	TypeProjectionsUpdated   Type = "ProjectionsUpdated"
	TypeRemoteMerged         Type = "RemoteMerged"
	TypeRealtimeNotification Type = "RealtimeNotification"
	TypeConflictsChanged     Type = "ConflictsChanged"
	TypeSyncCompleted        Type = "SyncCompleted"
	TypeQueueChanged         Type = "QueueChanged"
)

// Event is implemented by every variant below. Variants are value types so
// that On can derive the Type from a zero value.
type Event interface {
	Type() Type
}

// LegTimeChanged is published when an actual start or finish is recorded or cleared
type LegTimeChanged struct {
	Seq      uint64
	At       time.Time
	LegID    int
	Field    models.TimingField
	Previous *time.Time
	Current  *time.Time
}

func (LegTimeChanged) Type() Type { return TypeLegTimeChanged }

// LegUpdated is published when distance, pace override or runner assignment change
type LegUpdated struct {
	Seq      uint64
	At       time.Time
	LegID    int
	Fields   []string
	Previous models.Leg
	Current  models.Leg
}

func (LegUpdated) Type() Type { return TypeLegUpdated }

// RunnerUpdated is published after UpdateRunner
type RunnerUpdated struct {
	Seq      uint64
	At       time.Time
	RunnerID int
	Fields   []string
	Previous models.Runner
	Current  models.Runner
}

func (RunnerUpdated) Type() Type { return TypeRunnerUpdated }

// RaceAnchorChanged is published when the official start time moves
type RaceAnchorChanged struct {
	Seq      uint64
	At       time.Time
	Previous time.Time
	Current  time.Time
}

func (RaceAnchorChanged) Type() Type { return TypeRaceAnchorChanged }

// EntityNotFound reports a mutation against a stale id
type EntityNotFound struct {
	At        time.Time
	Entity    string
	ID        int
	Operation string
}

func (EntityNotFound) Type() Type { return TypeEntityNotFound }

// ProjectionsUpdated carries the freshly recomputed legs
type ProjectionsUpdated struct {
	At   time.Time
	Legs []models.Leg
}

func (ProjectionsUpdated) Type() Type { return TypeProjectionsUpdated }

// RemoteMerged is published after an authoritative snapshot has been merged
type RemoteMerged struct {
	At        time.Time
	Runners   int
	Legs      int
	Conflicts int
}

func (RemoteMerged) Type() Type { return TypeRemoteMerged }

// Broadcast is the realtime push payload shared by the backend and devices
type Broadcast struct {
	Type      string `json:"type"` // legs, runners or leaderboard
	Action    string `json:"action"`
	DeviceID  string `json:"device_id"`
	Timestamp string `json:"timestamp"`
}

// RealtimeNotification wraps an inbound broadcast
type RealtimeNotification struct {
	ReceivedAt time.Time
	Broadcast  Broadcast
}

func (RealtimeNotification) Type() Type { return TypeRealtimeNotification }

// ConflictsChanged is published whenever the pending conflict set grows or shrinks
type ConflictsChanged struct {
	At      time.Time
	Pending int
}

func (ConflictsChanged) Type() Type { return TypeConflictsChanged }

// SyncCompleted is published at the end of a full sync pass
type SyncCompleted struct {
	At        time.Time
	Flushed   int
	Failed    int
	Conflicts int
	Err       error
}

func (SyncCompleted) Type() Type { return TypeSyncCompleted }

// QueueChanged reports the offline queue size, the only user-visible failure signal
type QueueChanged struct {
	At      time.Time
	Pending int
	Failed  int
}

func (QueueChanged) Type() Type { return TypeQueueChanged }
