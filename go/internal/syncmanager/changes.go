package syncmanager

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/models"
	"github.com/mcdev12/relay/go/internal/offline"
	"github.com/mcdev12/relay/go/internal/remote"
)

func (m *Manager) onLegTimeChanged(e events.LegTimeChanged) error {
	m.track(models.TableLegs, e.LegID, string(e.Field), formatValue(e.Current))
	return nil
}

func (m *Manager) onLegUpdated(e events.LegUpdated) error {
	for _, f := range e.Fields {
		m.track(models.TableLegs, e.LegID, f, legFieldValue(e.Current, f))
	}
	return nil
}

func (m *Manager) onRunnerUpdated(e events.RunnerUpdated) error {
	for _, f := range e.Fields {
		m.track(models.TableRunners, e.RunnerID, f, runnerFieldValue(e.Current, f))
	}
	return nil
}

// The anchor is device state and is persisted locally only
func (m *Manager) onRaceAnchorChanged(e events.RaceAnchorChanged) error {
	return m.queue.SetRaceAnchor(context.Background(), e.Current)
}

// track registers a changed field value. A value identical to one already
// pending or in flight is dropped.
func (m *Manager) track(table string, id int, field, value string) {
	key := changeKey{table: table, id: id, field: field, value: value}

	m.mu.Lock()
	if _, dup := m.pending[key]; dup {
		m.mu.Unlock()
		log.Debug().
			Str("table", table).
			Int("id", id).
			Str("field", field).
			Msg("dropping duplicate change")
		return
	}
	m.pending[key] = false

	ref := entityRef{table: table, id: id}
	known := false
	for _, r := range m.order {
		if r == ref {
			known = true
			break
		}
	}
	if !known {
		m.order = append(m.order, ref)
	}
	m.armFlushLocked(m.cfg.Debounce)
	m.mu.Unlock()
}

// armFlushLocked schedules a flush task after d unless one is already armed
func (m *Manager) armFlushLocked(d time.Duration) {
	if m.flushTimer != nil {
		return
	}
	m.flushTimer = m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		m.flushTimer = nil
		m.mu.Unlock()
		m.submit(taskFlush)
	})
}

// flushWhenAllowed sends pending changes, deferring while the cooldown
// window is still open. Offline sends skip the cooldown since they only
// touch the local queue.
func (m *Manager) flushWhenAllowed(ctx context.Context) {
	if m.online.Load() {
		now := m.clock.Now()
		r := m.limiter.ReserveN(now, 1)
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			m.mu.Lock()
			m.armFlushLocked(d)
			m.mu.Unlock()
			log.Debug().Dur("delay", d).Msg("sync cooldown active, deferring flush")
			return
		}
	}
	m.FlushPending(ctx)
}

// FlushPending sends every tracked change now. Each entity is sent once with
// its current values. Network failures fall back to the offline queue; a
// change the remote store rejects is dead-lettered instead of retried.
func (m *Manager) FlushPending(ctx context.Context) {
	m.mu.Lock()
	batch := m.order
	m.order = nil
	inFlight := make(map[entityRef][]changeKey, len(batch))
	for k, flying := range m.pending {
		if flying {
			continue
		}
		m.pending[k] = true
		ref := entityRef{table: k.table, id: k.id}
		inFlight[ref] = append(inFlight[ref], k)
	}
	m.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	online := m.online.Load()
	queueChanged := 0
	for _, ref := range batch {
		if _, ok := inFlight[ref]; !ok {
			continue
		}
		if online {
			err := m.push(ctx, ref)
			if err == nil {
				m.release(inFlight[ref])
				continue
			}
			if permanent(err) {
				log.Warn().
					Err(err).
					Str("table", ref.table).
					Int("id", ref.id).
					Msg("remote rejected change")
				if err := m.reject(ctx, ref, err); err != nil {
					log.Error().Err(err).Str("table", ref.table).Int("id", ref.id).Msg("failed to record rejected change")
				} else {
					queueChanged++
				}
				m.release(inFlight[ref])
				continue
			}
			log.Warn().
				Err(err).
				Str("table", ref.table).
				Int("id", ref.id).
				Msg("remote write failed, queueing change")
		}
		if err := m.enqueue(ctx, ref); err != nil {
			log.Error().Err(err).Str("table", ref.table).Int("id", ref.id).Msg("failed to queue change")
		} else {
			queueChanged++
		}
		m.release(inFlight[ref])
	}

	if queueChanged > 0 {
		m.publishQueueChanged(ctx)
	}
}

// permanent reports whether a failed send will fail the same way on retry
func permanent(err error) bool {
	return !remote.IsRetryable(err) || errors.Is(err, offline.ErrUnresolvedReference)
}

func (m *Manager) release(keys []changeKey) {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.pending, k)
	}
	m.mu.Unlock()
}

// scheduleFetch arms a single fetch after the settle delay
func (m *Manager) scheduleFetch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchTimer != nil {
		return
	}
	m.fetchTimer = m.clock.AfterFunc(m.cfg.SettleDelay, func() {
		m.mu.Lock()
		m.fetchTimer = nil
		m.mu.Unlock()
		m.submit(taskFetch)
	})
}

func (m *Manager) publishQueueChanged(ctx context.Context) {
	st, err := m.queue.Status(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read queue status")
		return
	}
	m.bus.Publish(events.QueueChanged{At: m.now(), Pending: st.Pending, Failed: st.Failed})
}

func formatValue(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return remote.FormatTime(*t)
}

func legFieldValue(l models.Leg, field string) string {
	switch field {
	case "runner_id":
		return strconv.Itoa(l.RunnerID)
	case "distance":
		return strconv.FormatFloat(l.Distance, 'f', -1, 64)
	case "pace_override":
		if l.PaceOverride == nil {
			return "null"
		}
		return l.PaceOverride.String()
	case string(models.TimingFieldStart), string(models.TimingFieldFinish):
		return formatValue(l.Actual(models.TimingField(field)))
	default:
		return ""
	}
}

func runnerFieldValue(r models.Runner, field string) string {
	switch field {
	case "name":
		return r.Name
	case "pace":
		return r.Pace.String()
	case "van":
		return strconv.Itoa(r.Van)
	default:
		return ""
	}
}
