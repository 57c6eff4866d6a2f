// Package projection derives each leg's projected start and finish from the
// race anchor, the chain of prior legs and the effective pace of each runner.
package projection

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mcdev12/relay/go/internal/models"
)

var (
	ErrNoRunner      = errors.New("leg has no assigned runner")
	ErrUnknownRunner = errors.New("leg references an unknown runner")
	ErrInvalidPace   = errors.New("effective pace is not positive")
	ErrNoAnchor      = errors.New("race anchor is not set")
)

// LegError explains why a leg's projection is unknown
type LegError struct {
	LegID int
	Err   error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("leg %d: %v", e.LegID, e.Err)
}

func (e *LegError) Unwrap() error {
	return e.Err
}

// Recalculate returns a copy of legs, sorted by id, with projected times
// derived from anchor and runners. Unknown projections are nil, never zero.
// The inputs are not modified, so calling it again on its own output yields
// the same result.
func Recalculate(legs []models.Leg, anchor time.Time, runners []models.Runner) []models.Leg {
	out, _ := calculate(legs, anchor, runners)
	return out
}

// Errors lists, per leg, why a projection could not be computed
func Errors(legs []models.Leg, anchor time.Time, runners []models.Runner) []*LegError {
	_, errs := calculate(legs, anchor, runners)
	return errs
}

func calculate(legs []models.Leg, anchor time.Time, runners []models.Runner) ([]models.Leg, []*LegError) {
	byID := make(map[int]models.Runner, len(runners))
	for _, r := range runners {
		byID[r.ID] = r
	}

	out := make([]models.Leg, len(legs))
	for i, l := range legs {
		out[i] = l.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	var errs []*LegError
	var start *time.Time
	if !anchor.IsZero() {
		start = models.TimePtr(anchor)
	}

	for i := range out {
		leg := &out[i]
		if i > 0 {
			start = out[i-1].EffectiveFinish()
		}

		leg.ProjectedStart = nil
		leg.ProjectedFinish = nil

		pace, err := effectivePace(*leg, byID)
		if err != nil {
			errs = append(errs, &LegError{LegID: leg.ID, Err: err})
		}
		if start == nil {
			if i == 0 {
				errs = append(errs, &LegError{LegID: leg.ID, Err: ErrNoAnchor})
			}
			continue
		}

		leg.ProjectedStart = models.TimePtr(*start)
		if err != nil {
			continue
		}
		finish := start.Add(legDuration(pace, leg.Distance))
		leg.ProjectedFinish = &finish
	}

	return out, errs
}

// effectivePace is the leg's pace override or its runner's pace. An
// unassigned leg has none, even with an override.
func effectivePace(leg models.Leg, runners map[int]models.Runner) (time.Duration, error) {
	if leg.RunnerID == 0 {
		return 0, ErrNoRunner
	}
	if leg.PaceOverride != nil {
		if *leg.PaceOverride <= 0 {
			return 0, ErrInvalidPace
		}
		return *leg.PaceOverride, nil
	}
	r, ok := runners[leg.RunnerID]
	if !ok {
		return 0, ErrUnknownRunner
	}
	if r.Pace <= 0 {
		return 0, ErrInvalidPace
	}
	return r.Pace, nil
}

// legDuration is distance × pace rounded to the millisecond
func legDuration(pace time.Duration, distance float64) time.Duration {
	d := time.Duration(float64(pace) * distance)
	return d.Round(time.Millisecond)
}
