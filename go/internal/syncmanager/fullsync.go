package syncmanager

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/models"
	"github.com/mcdev12/relay/go/internal/offline"
	"github.com/mcdev12/relay/go/internal/remote"
)

// SyncResult reports what a sync pass did
type SyncResult struct {
	Flushed      int
	Failed       int
	DeadLettered int
	Runners      int
	Legs         int
	Conflicts    int
}

// FullSync runs the reconnect sequence: flush the offline queue oldest first,
// fetch runners and legs, merge them, recompute projections and record the
// sync time. A second call while one is running returns ErrSyncInProgress.
func (m *Manager) FullSync(ctx context.Context) (SyncResult, error) {
	if !m.syncing.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer m.syncing.Store(false)

	log.Info().Str("team_id", m.cfg.TeamID).Msg("starting full sync")

	var res SyncResult
	flushed, err := m.queue.Flush(ctx, m.cfg.TeamID, offline.SenderFunc(m.sendRecord))
	if err != nil {
		return m.finish(ctx, res, fmt.Errorf("flush offline queue: %w", err))
	}
	res.Flushed = flushed.Sent
	res.Failed = flushed.Retained
	res.DeadLettered = len(flushed.DeadLettered)

	// changes made since going online follow the queued ones
	m.FlushPending(ctx)

	merged, err := m.fetchAndMerge(ctx)
	res.Runners, res.Legs, res.Conflicts = merged.Runners, merged.Legs, merged.Conflicts
	if err != nil {
		return m.finish(ctx, res, err)
	}

	now := m.now()
	m.store.SetLastSynced(now)
	if err := m.queue.SetLastSyncedAt(ctx, now); err != nil {
		log.Error().Err(err).Msg("failed to persist last synced time")
	}
	return m.finish(ctx, res, nil)
}

// FetchLatest pulls the authoritative snapshot and merges it without
// flushing the queue. It shares the full sync reentrancy guard.
func (m *Manager) FetchLatest(ctx context.Context) (SyncResult, error) {
	if !m.syncing.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer m.syncing.Store(false)

	return m.fetchAndMerge(ctx)
}

func (m *Manager) finish(ctx context.Context, res SyncResult, err error) (SyncResult, error) {
	m.bus.Publish(events.SyncCompleted{
		At:        m.now(),
		Flushed:   res.Flushed,
		Failed:    res.Failed + res.DeadLettered,
		Conflicts: res.Conflicts,
		Err:       err,
	})
	m.publishQueueChanged(ctx)

	if err != nil {
		log.Warn().Err(err).Msg("full sync incomplete")
		return res, err
	}
	log.Info().
		Int("flushed", res.Flushed).
		Int("failed", res.Failed).
		Int("dead_lettered", res.DeadLettered).
		Int("runners", res.Runners).
		Int("legs", res.Legs).
		Int("conflicts", res.Conflicts).
		Msg("full sync completed")
	return res, nil
}

func (m *Manager) fetchAndMerge(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	req := remote.ListRequest{TeamID: m.cfg.TeamID, DeviceID: m.cfg.DeviceID}

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	runnerRecs, err := m.remote.ListRunners(fetchCtx, req)
	if err != nil {
		return res, fmt.Errorf("fetch runners: %w", err)
	}
	legRecs, err := m.remote.ListLegs(fetchCtx, req)
	if err != nil {
		return res, fmt.Errorf("fetch legs: %w", err)
	}

	incomingRunners := make([]models.Runner, 0, len(runnerRecs))
	for _, rec := range runnerRecs {
		r, err := rec.ToRunner()
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed remote runner")
			continue
		}
		incomingRunners = append(incomingRunners, r)
	}

	snap := m.store.Snapshot()
	runners := m.resolver.MergeRunners(incomingRunners, snap.Runners)

	byRemoteID := make(map[string]int, len(runners.Merged))
	for _, r := range runners.Merged {
		if r.RemoteID != "" {
			byRemoteID[r.RemoteID] = r.ID
		}
	}

	incomingLegs := make([]models.Leg, 0, len(legRecs))
	for _, rec := range legRecs {
		l, err := rec.ToLeg(byRemoteID)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed remote leg")
			continue
		}
		if rec.RunnerID != "" && l.RunnerID == 0 {
			// keep the local assignment rather than unassigning the leg
			if cur, ok := snap.Leg(l.ID); ok {
				l.RunnerID = cur.RunnerID
			}
			log.Warn().
				Int("leg_id", l.ID).
				Str("runner_remote_id", rec.RunnerID).
				Msg("remote leg references an unknown runner")
		}
		incomingLegs = append(incomingLegs, l)
	}
	legs := m.resolver.MergeLegs(incomingLegs, snap.Legs)

	// only changed records are written back, and anything edited locally since
	// snap was taken is left alone; ApplyMerge recomputes projections
	m.store.ApplyMerge(snap, runners.Changed, legs.Changed)

	if len(legs.Conflicts) > 0 {
		m.conflicts.Add(legs.Conflicts...)
		m.bus.Publish(events.ConflictsChanged{At: m.now(), Pending: m.conflicts.Len()})
	}

	res.Runners = runners.Accepted
	res.Legs = legs.Accepted
	res.Conflicts = len(legs.Conflicts)
	m.bus.Publish(events.RemoteMerged{
		At:        m.now(),
		Runners:   res.Runners,
		Legs:      res.Legs,
		Conflicts: res.Conflicts,
	})
	return res, nil
}
