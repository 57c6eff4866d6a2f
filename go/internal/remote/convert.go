package remote

import (
	"fmt"
	"math"
	"time"

	"github.com/mcdev12/relay/go/internal/models"
)

// TimeLayout is the ISO-8601 form used for every timestamp on the wire
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and any RFC 3339 timestamp
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := ParseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}

// RunnerToRecord converts a local runner to its wire form
func RunnerToRecord(r models.Runner) RunnerRecord {
	rec := RunnerRecord{
		ID:          r.RemoteID,
		Number:      r.ID,
		Name:        r.Name,
		PaceSeconds: r.Pace.Seconds(),
		Van:         r.Van,
	}
	if r.UpdatedAt != nil {
		rec.UpdatedAt = FormatTime(*r.UpdatedAt)
	}
	return rec
}

// ToRunner converts a wire runner to the local model
func (r RunnerRecord) ToRunner() (models.Runner, error) {
	out := models.Runner{
		ID:       r.Number,
		Name:     r.Name,
		Pace:     secondsToDuration(r.PaceSeconds),
		Van:      r.Van,
		RemoteID: r.ID,
	}
	if r.UpdatedAt != "" {
		t, err := ParseTime(r.UpdatedAt)
		if err != nil {
			return models.Runner{}, fmt.Errorf("runner %d: %w", r.Number, err)
		}
		out.UpdatedAt = &t
	}
	return out, nil
}

// LegToRecord converts a local leg to its wire form. runnerRemoteID is the
// remote identifier of the assigned runner, empty when unassigned.
func LegToRecord(l models.Leg, runnerRemoteID string) LegRecord {
	rec := LegRecord{
		ID:           l.RemoteID,
		Number:       l.ID,
		RunnerID:     runnerRemoteID,
		Distance:     l.Distance,
		ActualStart:  formatTimePtr(l.ActualStart),
		ActualFinish: formatTimePtr(l.ActualFinish),
	}
	if l.PaceOverride != nil {
		s := l.PaceOverride.Seconds()
		rec.PaceOverrideSeconds = &s
	}
	if l.UpdatedAt != nil {
		rec.UpdatedAt = FormatTime(*l.UpdatedAt)
	}
	return rec
}

// ToLeg converts a wire leg to the local model. runnerByRemoteID maps runner
// remote identifiers to local runner ids; an unknown reference leaves the
// leg unassigned.
func (l LegRecord) ToLeg(runnerByRemoteID map[string]int) (models.Leg, error) {
	out := models.Leg{
		ID:       l.Number,
		Distance: l.Distance,
		RemoteID: l.ID,
	}
	if l.RunnerID != "" {
		out.RunnerID = runnerByRemoteID[l.RunnerID]
	}
	var err error
	if out.ActualStart, err = parseTimePtr(l.ActualStart); err != nil {
		return models.Leg{}, fmt.Errorf("leg %d actual_start: %w", l.Number, err)
	}
	if out.ActualFinish, err = parseTimePtr(l.ActualFinish); err != nil {
		return models.Leg{}, fmt.Errorf("leg %d actual_finish: %w", l.Number, err)
	}
	if l.PaceOverrideSeconds != nil {
		d := secondsToDuration(*l.PaceOverrideSeconds)
		out.PaceOverride = &d
	}
	if l.UpdatedAt != "" {
		t, err := ParseTime(l.UpdatedAt)
		if err != nil {
			return models.Leg{}, fmt.Errorf("leg %d updated_at: %w", l.Number, err)
		}
		out.UpdatedAt = &t
	}
	return out, nil
}
