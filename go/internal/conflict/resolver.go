// Package conflict merges authoritative remote records into local state and
// escalates timing disagreements instead of letting the newest write win.
package conflict

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/models"
)

// DefaultTolerance is the largest disagreement between two recorded
// timestamps that is still treated as clock noise
const DefaultTolerance = time.Minute

// Type classifies a conflict record
type Type string

const TypeTiming Type = "timing"

// Record is a timing disagreement awaiting a human decision
type Record struct {
	ID         uuid.UUID          `json:"id"`
	Type       Type               `json:"type"`
	LegID      int                `json:"leg_id"`
	Field      models.TimingField `json:"field"`
	Local      models.Leg         `json:"local"`
	Incoming   models.Leg         `json:"incoming"`
	DetectedAt time.Time          `json:"detected_at"`
}

// LocalValue is the value held on this device for the disputed field
func (r Record) LocalValue() *time.Time {
	return r.Local.Actual(r.Field)
}

// IncomingValue is the value reported by the remote store for the disputed field
func (r Record) IncomingValue() *time.Time {
	return r.Incoming.Actual(r.Field)
}

// MergeResult is the outcome of merging a remote snapshot into local records
type MergeResult[T any] struct {
	Merged    []T
	Conflicts []Record
	// Accepted counts incoming items that replaced (or added to) local state
	Accepted int
	// Changed holds only the records that differ from local state: accepted
	// incoming items and local items that adopted a remote identifier
	Changed []T
}

// Resolver compares incoming records against local ones
type Resolver struct {
	tolerance time.Duration
	clock     clockwork.Clock
}

// NewResolver creates a resolver; a non-positive tolerance selects DefaultTolerance
func NewResolver(tolerance time.Duration, clock clockwork.Clock) *Resolver {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{tolerance: tolerance, clock: clock}
}

// Tolerance returns the configured conflict window
func (r *Resolver) Tolerance() time.Duration {
	return r.tolerance
}

// Conflicting reports whether two timing values disagree by more than the tolerance.
// A missing value on either side never conflicts.
func (r *Resolver) Conflicting(local, incoming *time.Time) bool {
	if local == nil || incoming == nil {
		return false
	}
	diff := incoming.Sub(*local)
	if diff < 0 {
		diff = -diff
	}
	return diff > r.tolerance
}

// MergeLegs merges incoming legs into local legs. Merged contains every local
// leg (replaced where the incoming side won) plus incoming legs unknown locally.
func (r *Resolver) MergeLegs(incoming, local []models.Leg) MergeResult[models.Leg] {
	byID := make(map[int]models.Leg, len(local))
	for _, l := range local {
		byID[l.ID] = l.Clone()
	}

	var res MergeResult[models.Leg]
	for _, in := range incoming {
		cur, ok := byID[in.ID]
		if ok && !incomingWins(cur.UpdatedAt, in.UpdatedAt) {
			if adoptRemoteID(&cur.RemoteID, in.RemoteID) {
				byID[in.ID] = cur
				res.Changed = append(res.Changed, cur.Clone())
			}
			continue
		}

		if ok {
			if conflicts := r.timingConflicts(cur, in); len(conflicts) > 0 {
				// local value is provisionally retained until a decision is made
				res.Conflicts = append(res.Conflicts, conflicts...)
				if adoptRemoteID(&cur.RemoteID, in.RemoteID) {
					byID[in.ID] = cur
					res.Changed = append(res.Changed, cur.Clone())
				}
				continue
			}
			// keep the remote identifier learned locally if the incoming copy lacks one
			if in.RemoteID == "" {
				in.RemoteID = cur.RemoteID
			}
		}

		byID[in.ID] = in.Clone()
		res.Changed = append(res.Changed, in.Clone())
		res.Accepted++
	}

	res.Merged = make([]models.Leg, 0, len(byID))
	for _, l := range byID {
		res.Merged = append(res.Merged, l)
	}
	sort.Slice(res.Merged, func(i, j int) bool { return res.Merged[i].ID < res.Merged[j].ID })

	if len(res.Conflicts) > 0 {
		log.Warn().
			Int("conflicts", len(res.Conflicts)).
			Dur("tolerance", r.tolerance).
			Msg("timing conflicts detected during merge")
	}
	return res
}

// MergeRunners merges incoming runners into local runners. Runners carry no
// timing fields, so the newest write wins.
func (r *Resolver) MergeRunners(incoming, local []models.Runner) MergeResult[models.Runner] {
	byID := make(map[int]models.Runner, len(local))
	for _, rn := range local {
		byID[rn.ID] = rn.Clone()
	}

	var res MergeResult[models.Runner]
	for _, in := range incoming {
		cur, ok := byID[in.ID]
		if ok && !incomingWins(cur.UpdatedAt, in.UpdatedAt) {
			// a newer local edit not yet pushed still learns the remote id,
			// so incoming legs can resolve their runner reference
			if adoptRemoteID(&cur.RemoteID, in.RemoteID) {
				byID[in.ID] = cur
				res.Changed = append(res.Changed, cur.Clone())
			}
			continue
		}
		if ok && in.RemoteID == "" {
			in.RemoteID = cur.RemoteID
		}
		byID[in.ID] = in.Clone()
		res.Changed = append(res.Changed, in.Clone())
		res.Accepted++
	}

	res.Merged = make([]models.Runner, 0, len(byID))
	for _, rn := range byID {
		res.Merged = append(res.Merged, rn)
	}
	sort.Slice(res.Merged, func(i, j int) bool { return res.Merged[i].ID < res.Merged[j].ID })
	return res
}

func (r *Resolver) timingConflicts(local, incoming models.Leg) []Record {
	var out []Record
	now := r.clock.Now().UTC()
	for _, field := range models.TimingFields {
		if !r.Conflicting(local.Actual(field), incoming.Actual(field)) {
			continue
		}
		out = append(out, Record{
			ID:         uuid.New(),
			Type:       TypeTiming,
			LegID:      local.ID,
			Field:      field,
			Local:      local.Clone(),
			Incoming:   incoming.Clone(),
			DetectedAt: now,
		})
	}
	return out
}

// adoptRemoteID fills an empty local remote identifier
func adoptRemoteID(local *string, incoming string) bool {
	if *local != "" || incoming == "" {
		return false
	}
	*local = incoming
	return true
}

// incomingWins applies last-modified precedence: an incoming record replaces a
// local one that has no timestamp or an older one. Ties keep the local record.
func incomingWins(local, incoming *time.Time) bool {
	if local == nil {
		return true
	}
	if incoming == nil {
		return false
	}
	return incoming.After(*local)
}
