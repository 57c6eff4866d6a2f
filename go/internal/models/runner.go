package models

import (
	"errors"
	"fmt"
	"time"
)

// Van identifies which of the two support vans carries a runner
const (
	VanOne = 1
	VanTwo = 2
)

var ErrInvalidRunner = errors.New("invalid runner")

// Runner represents a team member running one or more legs
type Runner struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Pace      time.Duration `json:"pace"` // per distance unit
	Van       int           `json:"van"`
	RemoteID  string        `json:"remote_id,omitempty"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
}

// Validate checks the runner invariants: pace > 0 and van in {1,2}
func (r Runner) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidRunner, r.ID)
	}
	if r.Pace <= 0 {
		return fmt.Errorf("%w: runner %d pace must be positive", ErrInvalidRunner, r.ID)
	}
	if r.Van != VanOne && r.Van != VanTwo {
		return fmt.Errorf("%w: runner %d van must be 1 or 2, got %d", ErrInvalidRunner, r.ID, r.Van)
	}
	return nil
}

// Clone returns a deep copy of the runner
func (r Runner) Clone() Runner {
	r.UpdatedAt = cloneTime(r.UpdatedAt)
	return r
}

// RunnerPatch carries the fields of an UpdateRunner call. Nil fields are left untouched.
type RunnerPatch struct {
	Name *string
	Pace *time.Duration
	Van  *int
}

// Empty reports whether the patch changes nothing
func (p RunnerPatch) Empty() bool {
	return p.Name == nil && p.Pace == nil && p.Van == nil
}

// Apply returns a copy of r with the patch applied
func (p RunnerPatch) Apply(r Runner) Runner {
	out := r.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Pace != nil {
		out.Pace = *p.Pace
	}
	if p.Van != nil {
		out.Van = *p.Van
	}
	return out
}

// Fields lists the names of the fields the patch sets
func (p RunnerPatch) Fields() []string {
	var fields []string
	if p.Name != nil {
		fields = append(fields, "name")
	}
	if p.Pace != nil {
		fields = append(fields, "pace")
	}
	if p.Van != nil {
		fields = append(fields, "van")
	}
	return fields
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
