package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/relay/go/internal/conflict"
	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/models"
	"github.com/mcdev12/relay/go/internal/offline"
	"github.com/mcdev12/relay/go/internal/racestore"
	"github.com/mcdev12/relay/go/internal/realtime"
	"github.com/mcdev12/relay/go/internal/remote"
)

// ErrSyncInProgress is returned when a full sync or fetch is requested while
// another one is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Dependencies are the collaborators a Manager drives
type Dependencies struct {
	Store     *racestore.Store
	Bus       *events.Bus
	Remote    remote.Client
	Queue     *offline.Queue
	Resolver  *conflict.Resolver
	Conflicts *conflict.Set
	Clock     clockwork.Clock
}

type task int

const (
	taskFlush task = iota
	taskFetch
	taskFullSync
)

func (t task) String() string {
	switch t {
	case taskFlush:
		return "flush"
	case taskFetch:
		return "fetch"
	case taskFullSync:
		return "full_sync"
	default:
		return "task(" + strconv.Itoa(int(t)) + ")"
	}
}

// changeKey identifies one field value waiting to be sent
type changeKey struct {
	table string
	id    int
	field string
	value string
}

type entityRef struct {
	table string
	id    int
}

// Manager keeps the local replica and the remote store in step. Local
// mutations arrive as bus events and are applied synchronously by the store;
// everything touching the network runs on the task loop started by Run.
type Manager struct {
	cfg       Config
	store     *racestore.Store
	bus       *events.Bus
	remote    remote.Client
	queue     *offline.Queue
	resolver  *conflict.Resolver
	conflicts *conflict.Set
	clock     clockwork.Clock
	limiter   *rate.Limiter

	online  atomic.Bool
	syncing atomic.Bool
	tasks   chan task

	mu         sync.Mutex
	pending    map[changeKey]bool // true while in flight
	order      []entityRef
	flushTimer clockwork.Timer
	fetchTimer clockwork.Timer

	unsubscribe []func()
}

// New wires a Manager to the bus. The manager starts offline; call SetOnline
// once connectivity is known.
func New(cfg Config, deps Dependencies) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Bus == nil || deps.Remote == nil || deps.Queue == nil {
		return nil, errors.New("sync: store, bus, remote and queue are required")
	}
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Resolver == nil {
		deps.Resolver = conflict.NewResolver(conflict.DefaultTolerance, deps.Clock)
	}
	if deps.Conflicts == nil {
		deps.Conflicts = conflict.NewSet()
	}

	m := &Manager{
		cfg:       cfg,
		store:     deps.Store,
		bus:       deps.Bus,
		remote:    deps.Remote,
		queue:     deps.Queue,
		resolver:  deps.Resolver,
		conflicts: deps.Conflicts,
		clock:     deps.Clock,
		limiter:   rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		tasks:     make(chan task, 64),
		pending:   make(map[changeKey]bool),
	}

	m.unsubscribe = []func(){
		events.On(m.bus, m.onLegTimeChanged),
		events.On(m.bus, m.onLegUpdated),
		events.On(m.bus, m.onRunnerUpdated),
		events.On(m.bus, m.onRaceAnchorChanged),
	}
	return m, nil
}

// Close detaches the manager from the bus and stops its timers
func (m *Manager) Close() {
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.mu.Lock()
	stopTimer(m.flushTimer)
	stopTimer(m.fetchTimer)
	m.flushTimer, m.fetchTimer = nil, nil
	m.mu.Unlock()
}

// Run processes reconciliation tasks until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	log.Info().
		Str("device_id", m.cfg.DeviceID).
		Str("team_id", m.cfg.TeamID).
		Dur("cooldown", m.cfg.Cooldown).
		Msg("sync manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync manager shutting down")
			return ctx.Err()
		case t := <-m.tasks:
			m.runTask(ctx, t)
		}
	}
}

func (m *Manager) runTask(ctx context.Context, t task) {
	var err error
	switch t {
	case taskFlush:
		m.flushWhenAllowed(ctx)
	case taskFetch:
		_, err = m.FetchLatest(ctx)
	case taskFullSync:
		_, err = m.FullSync(ctx)
	}
	if err != nil && !errors.Is(err, ErrSyncInProgress) {
		log.Error().Err(err).Str("task", t.String()).Msg("sync task failed")
	}
}

func (m *Manager) submit(t task) {
	select {
	case m.tasks <- t:
	default:
		log.Warn().Str("task", t.String()).Msg("sync task queue full, dropping task")
	}
}

// Online reports the last connectivity state passed to SetOnline
func (m *Manager) Online() bool {
	return m.online.Load()
}

// SetOnline records a connectivity transition. Going online schedules a full
// sync.
func (m *Manager) SetOnline(online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}
	if online {
		log.Info().Str("device_id", m.cfg.DeviceID).Msg("device online, scheduling full sync")
		m.submit(taskFullSync)
		return
	}
	log.Info().Str("device_id", m.cfg.DeviceID).Msg("device offline, queueing changes")
}

// Listen feeds a realtime source into HandleBroadcast
func (m *Manager) Listen(ctx context.Context, source realtime.Source) (func(), error) {
	stop, err := source.Subscribe(ctx, m.cfg.TeamID, m.HandleBroadcast)
	if err != nil {
		return nil, fmt.Errorf("listen for broadcasts: %w", err)
	}
	return stop, nil
}

// HandleBroadcast reacts to a realtime push from another device
func (m *Manager) HandleBroadcast(b events.Broadcast) {
	if b.DeviceID == m.cfg.DeviceID {
		log.Debug().Str("type", b.Type).Msg("ignoring own broadcast")
		return
	}

	m.bus.Publish(events.RealtimeNotification{ReceivedAt: m.now(), Broadcast: b})

	switch b.Type {
	case models.TableLegs, models.TableRunners:
		m.scheduleFetch()
	case models.TableLeaderboard:
		log.Debug().Str("action", b.Action).Str("device_id", b.DeviceID).Msg("leaderboard broadcast")
	default:
		log.Warn().Str("type", b.Type).Msg("unknown broadcast type")
	}
}

// Status summarizes sync state for display
type Status struct {
	Online       bool
	Syncing      bool
	InFlight     int
	Pending      int
	Failed       int
	Conflicts    int
	LastSyncedAt time.Time
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	st := Status{
		Online:    m.online.Load(),
		Syncing:   m.syncing.Load(),
		Conflicts: m.conflicts.Len(),
	}
	m.mu.Lock()
	st.InFlight = len(m.pending)
	m.mu.Unlock()

	qs, err := m.queue.Status(ctx)
	if err != nil {
		return st, err
	}
	st.Pending, st.Failed = qs.Pending, qs.Failed
	if st.LastSyncedAt, err = m.queue.LastSyncedAt(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// Conflicts exposes the pending conflict set
func (m *Manager) Conflicts() *conflict.Set {
	return m.conflicts
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC().Truncate(time.Millisecond)
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}
