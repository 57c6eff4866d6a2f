package models

import (
	"errors"
	"fmt"
	"time"
)

// TimingField names one of the two authoritative timestamps of a leg
type TimingField string

const (
	TimingFieldStart  TimingField = "start"
	TimingFieldFinish TimingField = "finish"
)

// TimingFields lists the fields in the order they are compared during merge
var TimingFields = []TimingField{TimingFieldStart, TimingFieldFinish}

// Valid reports whether f is a known timing field
func (f TimingField) Valid() bool {
	return f == TimingFieldStart || f == TimingFieldFinish
}

var ErrInvalidLeg = errors.New("invalid leg")

// Leg is one runner's timed segment of the relay
type Leg struct {
	ID              int            `json:"id"`
	RunnerID        int            `json:"runner_id"` // 0 when unassigned
	Distance        float64        `json:"distance"`
	ProjectedStart  *time.Time     `json:"projected_start,omitempty"`
	ProjectedFinish *time.Time     `json:"projected_finish,omitempty"`
	ActualStart     *time.Time     `json:"actual_start,omitempty"`
	ActualFinish    *time.Time     `json:"actual_finish,omitempty"`
	PaceOverride    *time.Duration `json:"pace_override,omitempty"`
	RemoteID        string         `json:"remote_id,omitempty"`
	UpdatedAt       *time.Time     `json:"updated_at,omitempty"`
}

// Validate checks the leg invariants
func (l Leg) Validate() error {
	if l.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidLeg, l.ID)
	}
	if l.Distance <= 0 {
		return fmt.Errorf("%w: leg %d distance must be positive", ErrInvalidLeg, l.ID)
	}
	if l.PaceOverride != nil && *l.PaceOverride <= 0 {
		return fmt.Errorf("%w: leg %d pace override must be positive", ErrInvalidLeg, l.ID)
	}
	if l.ActualStart != nil && l.ActualFinish != nil && l.ActualFinish.Before(*l.ActualStart) {
		return fmt.Errorf("%w: leg %d finishes before it starts", ErrInvalidLeg, l.ID)
	}
	return nil
}

// Actual returns the actual timestamp recorded for field
func (l Leg) Actual(field TimingField) *time.Time {
	switch field {
	case TimingFieldStart:
		return l.ActualStart
	case TimingFieldFinish:
		return l.ActualFinish
	default:
		return nil
	}
}

// SetActual stores ts as the actual timestamp for field
func (l *Leg) SetActual(field TimingField, ts *time.Time) {
	switch field {
	case TimingFieldStart:
		l.ActualStart = cloneTime(ts)
	case TimingFieldFinish:
		l.ActualFinish = cloneTime(ts)
	}
}

// EffectiveFinish is the actual finish when recorded, otherwise the projection
func (l Leg) EffectiveFinish() *time.Time {
	if l.ActualFinish != nil {
		return l.ActualFinish
	}
	return l.ProjectedFinish
}

// Clone returns a deep copy of the leg
func (l Leg) Clone() Leg {
	l.ProjectedStart = cloneTime(l.ProjectedStart)
	l.ProjectedFinish = cloneTime(l.ProjectedFinish)
	l.ActualStart = cloneTime(l.ActualStart)
	l.ActualFinish = cloneTime(l.ActualFinish)
	l.UpdatedAt = cloneTime(l.UpdatedAt)
	if l.PaceOverride != nil {
		p := *l.PaceOverride
		l.PaceOverride = &p
	}
	return l
}

// LegPatch carries the non-timing fields of an UpdateLeg call.
// ClearPaceOverride removes an existing override.
type LegPatch struct {
	RunnerID          *int
	Distance          *float64
	PaceOverride      *time.Duration
	ClearPaceOverride bool
}

// Empty reports whether the patch changes nothing
func (p LegPatch) Empty() bool {
	return p.RunnerID == nil && p.Distance == nil && p.PaceOverride == nil && !p.ClearPaceOverride
}

// Apply returns a copy of l with the patch applied
func (p LegPatch) Apply(l Leg) Leg {
	out := l.Clone()
	if p.RunnerID != nil {
		out.RunnerID = *p.RunnerID
	}
	if p.Distance != nil {
		out.Distance = *p.Distance
	}
	if p.ClearPaceOverride {
		out.PaceOverride = nil
	}
	if p.PaceOverride != nil {
		pace := *p.PaceOverride
		out.PaceOverride = &pace
	}
	return out
}

// Fields lists the names of the fields the patch sets
func (p LegPatch) Fields() []string {
	var fields []string
	if p.RunnerID != nil {
		fields = append(fields, "runner_id")
	}
	if p.Distance != nil {
		fields = append(fields, "distance")
	}
	if p.PaceOverride != nil || p.ClearPaceOverride {
		fields = append(fields, "pace_override")
	}
	return fields
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}

// DurationPtr returns a pointer to d
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}

// SameTime reports whether two optional timestamps hold the same instant
func SameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
