// Package racestore holds the device's single mutable copy of runners, legs
// and the race anchor. Every local mutation is published on the event bus.
package racestore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/models"
	"github.com/mcdev12/relay/go/internal/projection"
)

// Snapshot is a deep copy of the store contents, sorted by id
type Snapshot struct {
	Anchor       time.Time       `json:"anchor"`
	Runners      []models.Runner `json:"runners"`
	Legs         []models.Leg    `json:"legs"`
	LastSyncedAt *time.Time      `json:"last_synced_at,omitempty"`
}

// Runner returns the runner with id from the snapshot
func (s Snapshot) Runner(id int) (models.Runner, bool) {
	for _, r := range s.Runners {
		if r.ID == id {
			return r, true
		}
	}
	return models.Runner{}, false
}

// Leg returns the leg with id from the snapshot
func (s Snapshot) Leg(id int) (models.Leg, bool) {
	for _, l := range s.Legs {
		if l.ID == id {
			return l, true
		}
	}
	return models.Leg{}, false
}

type Store struct {
	bus   *events.Bus
	clock clockwork.Clock

	mu           sync.RWMutex
	runners      map[int]models.Runner
	legs         map[int]models.Leg
	anchor       time.Time
	lastSyncedAt *time.Time
	seq          uint64
}

// New creates an empty store publishing on bus
func New(bus *events.Bus, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		bus:     bus,
		clock:   clock,
		runners: make(map[int]models.Runner),
		legs:    make(map[int]models.Leg),
	}
}

// now returns the clock time at millisecond precision
func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// Load replaces the store contents, typically when a race context is opened
func (s *Store) Load(runners []models.Runner, legs []models.Leg, anchor time.Time) error {
	rs := make(map[int]models.Runner, len(runners))
	for _, r := range runners {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("load runners: %w", err)
		}
		rs[r.ID] = r.Clone()
	}
	ls := make(map[int]models.Leg, len(legs))
	for _, l := range legs {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("load legs: %w", err)
		}
		ls[l.ID] = l.Clone()
	}

	s.mu.Lock()
	s.runners = rs
	s.legs = ls
	s.anchor = anchor
	projected := s.recalculateLocked()
	s.mu.Unlock()

	s.publishProjections(projected)
	return nil
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Anchor:  s.anchor,
		Runners: make([]models.Runner, 0, len(s.runners)),
		Legs:    s.sortedLegsLocked(),
	}
	for _, r := range s.runners {
		snap.Runners = append(snap.Runners, r.Clone())
	}
	sort.Slice(snap.Runners, func(i, j int) bool { return snap.Runners[i].ID < snap.Runners[j].ID })
	if s.lastSyncedAt != nil {
		t := *s.lastSyncedAt
		snap.LastSyncedAt = &t
	}
	return snap
}

// Runner returns a copy of a single runner
func (s *Store) Runner(id int) (models.Runner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runners[id]
	return r.Clone(), ok
}

// Leg returns a copy of a single leg
func (s *Store) Leg(id int) (models.Leg, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.legs[id]
	return l.Clone(), ok
}

// Anchor returns the race start anchor
func (s *Store) Anchor() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anchor
}

// SetLegActualTime records (or clears, with a nil ts) the actual start or finish of a leg
func (s *Store) SetLegActualTime(legID int, field models.TimingField, ts *time.Time) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}

	s.mu.Lock()
	leg, ok := s.legs[legID]
	if !ok {
		s.mu.Unlock()
		return s.notFound(models.TableLegs, legID, "set leg actual time")
	}

	prev := leg.Clone().Actual(field)
	next := leg.Clone()
	if ts != nil {
		t := ts.UTC().Truncate(time.Millisecond)
		ts = &t
	}
	next.SetActual(field, ts)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}

	at := s.now()
	next.UpdatedAt = &at
	s.legs[legID] = next
	s.seq++
	ev := events.LegTimeChanged{
		Seq:      s.seq,
		At:       at,
		LegID:    legID,
		Field:    field,
		Previous: prev,
		Current:  next.Clone().Actual(field),
	}
	projected := s.recalculateLocked()
	s.mu.Unlock()

	log.Debug().
		Int("leg_id", legID).
		Str("field", string(field)).
		Uint64("seq", ev.Seq).
		Msg("leg actual time set")

	s.bus.Publish(ev)
	s.publishProjections(projected)
	return nil
}

// UpdateRunner applies a partial update to a runner
func (s *Store) UpdateRunner(runnerID int, patch models.RunnerPatch) error {
	s.mu.Lock()
	runner, ok := s.runners[runnerID]
	if !ok {
		s.mu.Unlock()
		return s.notFound(models.TableRunners, runnerID, "update runner")
	}
	if patch.Empty() {
		s.mu.Unlock()
		return nil
	}

	next := patch.Apply(runner)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}

	at := s.now()
	next.UpdatedAt = &at
	s.runners[runnerID] = next
	s.seq++
	ev := events.RunnerUpdated{
		Seq:      s.seq,
		At:       at,
		RunnerID: runnerID,
		Fields:   patch.Fields(),
		Previous: runner.Clone(),
		Current:  next.Clone(),
	}
	var projected []models.Leg
	if patch.Pace != nil {
		projected = s.recalculateLocked()
	}
	s.mu.Unlock()

	s.bus.Publish(ev)
	s.publishProjections(projected)
	return nil
}

// UpdateLeg applies a partial update to a leg's distance, pace override or runner
func (s *Store) UpdateLeg(legID int, patch models.LegPatch) error {
	s.mu.Lock()
	leg, ok := s.legs[legID]
	if !ok {
		s.mu.Unlock()
		return s.notFound(models.TableLegs, legID, "update leg")
	}
	if patch.Empty() {
		s.mu.Unlock()
		return nil
	}
	if patch.RunnerID != nil && *patch.RunnerID != 0 {
		if _, ok := s.runners[*patch.RunnerID]; !ok {
			s.mu.Unlock()
			return s.notFound(models.TableRunners, *patch.RunnerID, "assign runner")
		}
	}

	next := patch.Apply(leg)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}

	at := s.now()
	next.UpdatedAt = &at
	s.legs[legID] = next
	s.seq++
	ev := events.LegUpdated{
		Seq:      s.seq,
		At:       at,
		LegID:    legID,
		Fields:   patch.Fields(),
		Previous: leg.Clone(),
		Current:  next.Clone(),
	}
	projected := s.recalculateLocked()
	s.mu.Unlock()

	s.bus.Publish(ev)
	s.publishProjections(projected)
	return nil
}

// SetRaceAnchor moves the official race start
func (s *Store) SetRaceAnchor(ts time.Time) {
	ts = ts.UTC().Truncate(time.Millisecond)

	s.mu.Lock()
	prev := s.anchor
	s.anchor = ts
	s.seq++
	ev := events.RaceAnchorChanged{
		Seq:      s.seq,
		At:       s.now(),
		Previous: prev,
		Current:  ts,
	}
	projected := s.recalculateLocked()
	s.mu.Unlock()

	log.Info().
		Time("previous", prev).
		Time("current", ts).
		Msg("race anchor set")

	s.bus.Publish(ev)
	s.publishProjections(projected)
}

// ResolveLeg replaces a leg with the result of apply, which receives a copy
// of the current leg under the store lock. The result is validated and stamped
// like a local edit. Every field in decided is published as changed so the
// leg is pushed again even when its value did not move; other changes are
// published only when they differ.
func (s *Store) ResolveLeg(legID int, decided []models.TimingField, apply func(current models.Leg) (models.Leg, error)) error {
	s.mu.Lock()
	leg, ok := s.legs[legID]
	if !ok {
		s.mu.Unlock()
		return s.notFound(models.TableLegs, legID, "resolve leg")
	}

	next, err := apply(leg.Clone())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next.ID = legID
	for _, f := range models.TimingFields {
		if t := next.Actual(f); t != nil {
			next.SetActual(f, models.TimePtr(t.UTC().Truncate(time.Millisecond)))
		}
	}
	if next.RunnerID != 0 {
		if _, ok := s.runners[next.RunnerID]; !ok {
			s.mu.Unlock()
			return s.notFound(models.TableRunners, next.RunnerID, "resolve leg")
		}
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}

	at := s.now()
	next.UpdatedAt = &at
	s.legs[legID] = next

	var evs []events.Event
	for _, f := range models.TimingFields {
		if !containsField(decided, f) && models.SameTime(leg.Actual(f), next.Actual(f)) {
			continue
		}
		s.seq++
		evs = append(evs, events.LegTimeChanged{
			Seq:      s.seq,
			At:       at,
			LegID:    legID,
			Field:    f,
			Previous: leg.Clone().Actual(f),
			Current:  next.Clone().Actual(f),
		})
	}
	if fields := changedLegFields(leg, next); len(fields) > 0 {
		s.seq++
		evs = append(evs, events.LegUpdated{
			Seq:      s.seq,
			At:       at,
			LegID:    legID,
			Fields:   fields,
			Previous: leg.Clone(),
			Current:  next.Clone(),
		})
	}
	projected := s.recalculateLocked()
	s.mu.Unlock()

	log.Debug().Int("leg_id", legID).Int("events", len(evs)).Msg("leg resolved")

	for _, ev := range evs {
		s.bus.Publish(ev)
	}
	s.publishProjections(projected)
	return nil
}

// ApplyMerge installs records produced by merging the remote snapshot into
// base, the snapshot the merge was computed from. It does not emit
// local-change events, so merged state is never echoed back. A record whose
// local copy was edited after base was taken is skipped, apart from filling a
// missing remote identifier. Invalid records are skipped.
func (s *Store) ApplyMerge(base Snapshot, runners []models.Runner, legs []models.Leg) {
	s.mu.Lock()
	for _, r := range runners {
		if err := r.Validate(); err != nil {
			log.Warn().Err(err).Int("runner_id", r.ID).Msg("skipping invalid merged runner")
			continue
		}
		if cur, ok := s.runners[r.ID]; ok {
			prior, seen := base.Runner(r.ID)
			if !seen || !models.SameTime(cur.UpdatedAt, prior.UpdatedAt) {
				if cur.RemoteID == "" && r.RemoteID != "" {
					cur.RemoteID = r.RemoteID
					s.runners[r.ID] = cur
				}
				log.Debug().Int("runner_id", r.ID).Msg("runner changed during merge, keeping local edit")
				continue
			}
			if r.RemoteID == "" {
				r.RemoteID = cur.RemoteID
			}
		}
		s.runners[r.ID] = r.Clone()
	}
	for _, l := range legs {
		if err := l.Validate(); err != nil {
			log.Warn().Err(err).Int("leg_id", l.ID).Msg("skipping invalid merged leg")
			continue
		}
		if cur, ok := s.legs[l.ID]; ok {
			prior, seen := base.Leg(l.ID)
			if !seen || !models.SameTime(cur.UpdatedAt, prior.UpdatedAt) {
				if cur.RemoteID == "" && l.RemoteID != "" {
					cur.RemoteID = l.RemoteID
					s.legs[l.ID] = cur
				}
				log.Debug().Int("leg_id", l.ID).Msg("leg changed during merge, keeping local edit")
				continue
			}
			if l.RemoteID == "" {
				l.RemoteID = cur.RemoteID
			}
		}
		s.legs[l.ID] = l.Clone()
	}
	projected := s.recalculateLocked()
	s.mu.Unlock()

	s.publishProjections(projected)
}

// MarkRunnerSynced records the remote identifier assigned to a runner
func (s *Store) MarkRunnerSynced(runnerID int, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runners[runnerID]
	if !ok {
		return &NotFoundError{Entity: models.TableRunners, ID: runnerID, Operation: "mark runner synced"}
	}
	if remoteID != "" {
		r.RemoteID = remoteID
	}
	s.runners[runnerID] = r
	return nil
}

// MarkLegSynced records the remote identifier assigned to a leg
func (s *Store) MarkLegSynced(legID int, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.legs[legID]
	if !ok {
		return &NotFoundError{Entity: models.TableLegs, ID: legID, Operation: "mark leg synced"}
	}
	if remoteID != "" {
		l.RemoteID = remoteID
	}
	s.legs[legID] = l
	return nil
}

// SetLastSynced stores the time of the last completed full sync
func (s *Store) SetLastSynced(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncedAt = &at
}

// Recalculate re-runs the projection engine over current state and publishes the result
func (s *Store) Recalculate() []models.Leg {
	s.mu.Lock()
	projected := s.recalculateLocked()
	s.mu.Unlock()

	s.publishProjections(projected)
	return projected
}

// recalculateLocked recomputes projections in place and returns a copy of the legs
func (s *Store) recalculateLocked() []models.Leg {
	runners := make([]models.Runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}

	projected := projection.Recalculate(s.sortedLegsLocked(), s.anchor, runners)
	for _, l := range projected {
		s.legs[l.ID] = l.Clone()
	}
	return projected
}

func containsField(fields []models.TimingField, f models.TimingField) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

// changedLegFields lists the non-timing fields that differ between two legs
func changedLegFields(prev, next models.Leg) []string {
	var fields []string
	if prev.RunnerID != next.RunnerID {
		fields = append(fields, "runner_id")
	}
	if prev.Distance != next.Distance {
		fields = append(fields, "distance")
	}
	if (prev.PaceOverride == nil) != (next.PaceOverride == nil) ||
		(prev.PaceOverride != nil && *prev.PaceOverride != *next.PaceOverride) {
		fields = append(fields, "pace_override")
	}
	return fields
}

func (s *Store) sortedLegsLocked() []models.Leg {
	legs := make([]models.Leg, 0, len(s.legs))
	for _, l := range s.legs {
		legs = append(legs, l.Clone())
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].ID < legs[j].ID })
	return legs
}

func (s *Store) publishProjections(legs []models.Leg) {
	if legs == nil {
		return
	}
	s.bus.Publish(events.ProjectionsUpdated{At: s.now(), Legs: legs})
}

func (s *Store) notFound(entity string, id int, op string) error {
	err := &NotFoundError{Entity: entity, ID: id, Operation: op}
	log.Warn().
		Str("entity", entity).
		Int("id", id).
		Str("operation", op).
		Msg("mutation ignored for unknown entity")
	s.bus.Publish(events.EntityNotFound{At: s.now(), Entity: entity, ID: id, Operation: op})
	return err
}
