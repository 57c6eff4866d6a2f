// Package relay opens a race context on one device: it wires the event bus,
// race store, offline queue, conflict resolver and sync manager together.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/conflict"
	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/models"
	"github.com/mcdev12/relay/go/internal/offline"
	"github.com/mcdev12/relay/go/internal/racestore"
	"github.com/mcdev12/relay/go/internal/remote"
	"github.com/mcdev12/relay/go/internal/syncmanager"
)

// Options configure a race context
type Options struct {
	Sync   syncmanager.Config
	Remote remote.Client

	// Storage backs the offline queue. Nil selects in-memory storage.
	Storage     offline.Storage
	Metrics     offline.MetricsCollector
	MaxAttempts int

	// Tolerance is the conflict threshold between two recorded times
	Tolerance time.Duration
	Clock     clockwork.Clock
}

// Seed is the roster a race context starts from
type Seed struct {
	Runners []models.Runner
	Legs    []models.Leg
	Anchor  time.Time
}

// Race is one device's view of a race
type Race struct {
	Bus       *events.Bus
	Store     *racestore.Store
	Queue     *offline.Queue
	Resolver  *conflict.Resolver
	Conflicts *conflict.Set
	Sync      *syncmanager.Manager

	clock clockwork.Clock
}

// Open builds a race context. A race anchor and last sync time persisted by
// an earlier session take precedence over the seed.
func Open(ctx context.Context, opts Options, seed Seed) (*Race, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	storage := opts.Storage
	if storage == nil {
		storage = offline.NewMemoryStorage()
	}

	bus := events.NewBus()
	store := racestore.New(bus, clock)
	queue := offline.NewQueue(storage, clock, opts.Metrics, offline.Config{MaxAttempts: opts.MaxAttempts})

	anchor := seed.Anchor
	persisted, err := queue.RaceAnchor(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore race anchor: %w", err)
	}
	if !persisted.IsZero() {
		anchor = persisted
	}
	if err := store.Load(seed.Runners, seed.Legs, anchor.UTC().Truncate(time.Millisecond)); err != nil {
		return nil, err
	}

	lastSynced, err := queue.LastSyncedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore last synced time: %w", err)
	}
	if !lastSynced.IsZero() {
		store.SetLastSynced(lastSynced)
	}

	resolver := conflict.NewResolver(opts.Tolerance, clock)
	conflicts := conflict.NewSet()
	manager, err := syncmanager.New(opts.Sync, syncmanager.Dependencies{
		Store:     store,
		Bus:       bus,
		Remote:    opts.Remote,
		Queue:     queue,
		Resolver:  resolver,
		Conflicts: conflicts,
		Clock:     clock,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("team_id", opts.Sync.TeamID).
		Str("device_id", opts.Sync.DeviceID).
		Int("runners", len(seed.Runners)).
		Int("legs", len(seed.Legs)).
		Time("anchor", anchor).
		Msg("race opened")

	return &Race{
		Bus:       bus,
		Store:     store,
		Queue:     queue,
		Resolver:  resolver,
		Conflicts: conflicts,
		Sync:      manager,
		clock:     clock,
	}, nil
}

// Run drives the sync manager's task loop until ctx ends
func (r *Race) Run(ctx context.Context) error {
	return r.Sync.Run(ctx)
}

// Close detaches the sync manager and closes queue storage
func (r *Race) Close() error {
	r.Sync.Close()
	return r.Queue.Storage().Close()
}

// ResolveConflict applies a decision to a pending conflict. The held-back
// incoming leg is merged in with the chosen value in the disputed field, and
// the result is written through the store so it is recalculated and re-synced
// like any local edit. Other pending records for the leg that the decision
// had to settle are cleared with it.
func (r *Race) ResolveConflict(id uuid.UUID, d conflict.Decision) error {
	rec, ok := r.Conflicts.Get(id)
	if !ok {
		return conflict.ErrConflictNotFound
	}
	pending := r.Conflicts.Pending()

	var res conflict.Resolution
	err := r.Store.ResolveLeg(rec.LegID, []models.TimingField{rec.Field}, func(current models.Leg) (models.Leg, error) {
		var err error
		res, err = r.Resolver.Apply(rec, d, current, pending)
		return res.Leg, err
	})
	if err != nil {
		return fmt.Errorf("apply conflict decision: %w", err)
	}
	for _, settled := range res.Settled {
		if _, err := r.Conflicts.Take(settled); err != nil && !errors.Is(err, conflict.ErrConflictNotFound) {
			return err
		}
	}

	log.Info().
		Str("conflict_id", id.String()).
		Int("leg_id", rec.LegID).
		Str("field", string(rec.Field)).
		Str("action", string(d.Action)).
		Int("settled", len(res.Settled)).
		Msg("conflict resolved")

	r.publishConflicts()
	return nil
}

// SkipConflict drops a pending conflict and keeps local state as it is
func (r *Race) SkipConflict(id uuid.UUID) error {
	if err := r.Conflicts.Skip(id); err != nil {
		return err
	}
	r.publishConflicts()
	return nil
}

func (r *Race) publishConflicts() {
	r.Bus.Publish(events.ConflictsChanged{
		At:      r.clock.Now().UTC().Truncate(time.Millisecond),
		Pending: r.Conflicts.Len(),
	})
}
