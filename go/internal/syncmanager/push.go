package syncmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/models"
	"github.com/mcdev12/relay/go/internal/offline"
	"github.com/mcdev12/relay/go/internal/remote"
)

// queuedLeg is the offline payload for a leg. RunnerNumber lets replay
// resolve the runner's remote id when it was unknown at enqueue time.
type queuedLeg struct {
	Leg          remote.LegRecord `json:"leg"`
	RunnerNumber int              `json:"runner_number,omitempty"`
}

func (m *Manager) push(ctx context.Context, ref entityRef) error {
	switch ref.table {
	case models.TableRunners:
		r, ok := m.store.Runner(ref.id)
		if !ok {
			log.Warn().Int("runner_id", ref.id).Msg("runner vanished before sync")
			return nil
		}
		_, err := m.pushRunner(ctx, remote.RunnerToRecord(r))
		return err
	case models.TableLegs:
		l, ok := m.store.Leg(ref.id)
		if !ok {
			log.Warn().Int("leg_id", ref.id).Msg("leg vanished before sync")
			return nil
		}
		runnerRemoteID, err := m.ensureRunner(ctx, l.RunnerID)
		if err != nil {
			return err
		}
		return m.pushLeg(ctx, remote.LegToRecord(l, runnerRemoteID))
	default:
		return fmt.Errorf("unknown table %q", ref.table)
	}
}

// ensureRunner returns the remote id of a local runner, creating the runner
// remotely first when it has none. Zero means unassigned.
func (m *Manager) ensureRunner(ctx context.Context, runnerID int) (string, error) {
	if runnerID == 0 {
		return "", nil
	}
	r, ok := m.store.Runner(runnerID)
	if !ok {
		return "", fmt.Errorf("runner %d: %w", runnerID, offline.ErrUnresolvedReference)
	}
	if r.RemoteID != "" {
		return r.RemoteID, nil
	}
	return m.pushRunner(ctx, remote.RunnerToRecord(r))
}

func (m *Manager) pushRunner(ctx context.Context, rec remote.RunnerRecord) (string, error) {
	action := remote.ActionUpdate
	if rec.ID == "" {
		action = remote.ActionCreate
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	out, err := m.remote.UpsertRunners(ctx, remote.UpsertRunnersRequest{
		TeamID:   m.cfg.TeamID,
		DeviceID: m.cfg.DeviceID,
		Action:   action,
		Runners:  []remote.RunnerRecord{rec},
	})
	if err != nil {
		return "", fmt.Errorf("upsert runner %d: %w", rec.Number, err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("upsert runner %d: empty response", rec.Number)
	}
	if err := m.store.MarkRunnerSynced(rec.Number, out[0].ID); err != nil {
		log.Warn().Err(err).Int("runner_id", rec.Number).Msg("synced runner missing locally")
	}
	log.Debug().Int("runner_id", rec.Number).Str("remote_id", out[0].ID).Str("action", string(action)).Msg("runner synced")
	return out[0].ID, nil
}

func (m *Manager) pushLeg(ctx context.Context, rec remote.LegRecord) error {
	action := remote.ActionUpdate
	if rec.ID == "" {
		action = remote.ActionCreate
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	out, err := m.remote.UpsertLegs(ctx, remote.UpsertLegsRequest{
		TeamID:   m.cfg.TeamID,
		DeviceID: m.cfg.DeviceID,
		Action:   action,
		Legs:     []remote.LegRecord{rec},
	})
	if err != nil {
		return fmt.Errorf("upsert leg %d: %w", rec.Number, err)
	}
	if len(out) == 0 {
		return fmt.Errorf("upsert leg %d: empty response", rec.Number)
	}
	if err := m.store.MarkLegSynced(rec.Number, out[0].ID); err != nil {
		log.Warn().Err(err).Int("leg_id", rec.Number).Msg("synced leg missing locally")
	}
	log.Debug().Int("leg_id", rec.Number).Str("remote_id", out[0].ID).Str("action", string(action)).Msg("leg synced")
	return nil
}

// enqueue appends the entity's current values to the offline queue
func (m *Manager) enqueue(ctx context.Context, ref entityRef) error {
	rec, ok, err := m.queueRecord(ref)
	if err != nil || !ok {
		return err
	}
	_, err = m.queue.Enqueue(ctx, rec)
	return err
}

// reject dead-letters the entity's current values with the remote's reason
func (m *Manager) reject(ctx context.Context, ref entityRef, cause error) error {
	rec, ok, err := m.queueRecord(ref)
	if err != nil || !ok {
		return err
	}
	_, err = m.queue.Reject(ctx, rec, cause)
	return err
}

// queueRecord captures the entity's current values. It reports false when the
// entity no longer exists locally.
func (m *Manager) queueRecord(ref entityRef) (offline.Record, bool, error) {
	rec := offline.Record{Table: ref.table, EntityID: ref.id}

	switch ref.table {
	case models.TableRunners:
		r, ok := m.store.Runner(ref.id)
		if !ok {
			return rec, false, nil
		}
		payload, err := json.Marshal(remote.RunnerToRecord(r))
		if err != nil {
			return rec, false, err
		}
		rec.RemoteID, rec.Payload = r.RemoteID, payload
	case models.TableLegs:
		l, ok := m.store.Leg(ref.id)
		if !ok {
			return rec, false, nil
		}
		q := queuedLeg{RunnerNumber: l.RunnerID}
		runnerRemoteID := ""
		if r, ok := m.store.Runner(l.RunnerID); ok {
			runnerRemoteID = r.RemoteID
		}
		q.Leg = remote.LegToRecord(l, runnerRemoteID)
		payload, err := json.Marshal(q)
		if err != nil {
			return rec, false, err
		}
		rec.RemoteID, rec.Payload = l.RemoteID, payload
	default:
		return rec, false, fmt.Errorf("unknown table %q", ref.table)
	}
	return rec, true, nil
}

// sendRecord replays one queued record. Remote ids learned since the record
// was queued are filled in from the store.
func (m *Manager) sendRecord(ctx context.Context, _ string, rec offline.Record) error {
	switch rec.Table {
	case models.TableRunners:
		var r remote.RunnerRecord
		if err := json.Unmarshal(rec.Payload, &r); err != nil {
			return fmt.Errorf("decode runner payload: %w", err)
		}
		if r.ID == "" {
			if cur, ok := m.store.Runner(r.Number); ok {
				r.ID = cur.RemoteID
			}
		}
		_, err := m.pushRunner(ctx, r)
		return unresolved(err)
	case models.TableLegs:
		var q queuedLeg
		if err := json.Unmarshal(rec.Payload, &q); err != nil {
			return fmt.Errorf("decode leg payload: %w", err)
		}
		if q.Leg.ID == "" {
			if cur, ok := m.store.Leg(q.Leg.Number); ok {
				q.Leg.ID = cur.RemoteID
			}
		}
		if q.Leg.RunnerID == "" && q.RunnerNumber != 0 {
			id, err := m.ensureRunner(ctx, q.RunnerNumber)
			if err != nil {
				return unresolved(err)
			}
			q.Leg.RunnerID = id
		}
		return unresolved(m.pushLeg(ctx, q.Leg))
	default:
		return fmt.Errorf("unknown table %q", rec.Table)
	}
}

// unresolved marks a missing remote reference as permanent
func unresolved(err error) error {
	if err != nil && errors.Is(err, remote.ErrNotFound) && !errors.Is(err, offline.ErrUnresolvedReference) {
		return fmt.Errorf("%w: %w", offline.ErrUnresolvedReference, err)
	}
	return err
}
