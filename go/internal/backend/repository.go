package backend

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mcdev12/relay/go/internal/remote"
)

var ErrNotFound = errors.New("record not found")

// Repository defines what the app layer needs from storage. Records are
// scoped by team.
type Repository interface {
	GetRunner(ctx context.Context, teamID, id string) (remote.RunnerRecord, error)
	FindRunnerByNumber(ctx context.Context, teamID string, number int) (remote.RunnerRecord, error)
	SaveRunner(ctx context.Context, teamID string, r remote.RunnerRecord) error
	ListRunners(ctx context.Context, teamID string) ([]remote.RunnerRecord, error)

	GetLeg(ctx context.Context, teamID, id string) (remote.LegRecord, error)
	FindLegByNumber(ctx context.Context, teamID string, number int) (remote.LegRecord, error)
	SaveLeg(ctx context.Context, teamID string, l remote.LegRecord) error
	ListLegs(ctx context.Context, teamID string) ([]remote.LegRecord, error)
}

// MemoryRepository keeps records in process memory
type MemoryRepository struct {
	mu      sync.RWMutex
	runners map[string]map[string]remote.RunnerRecord
	legs    map[string]map[string]remote.LegRecord
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runners: make(map[string]map[string]remote.RunnerRecord),
		legs:    make(map[string]map[string]remote.LegRecord),
	}
}

func (m *MemoryRepository) GetRunner(_ context.Context, teamID, id string) (remote.RunnerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[teamID][id]
	if !ok {
		return remote.RunnerRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepository) FindRunnerByNumber(_ context.Context, teamID string, number int) (remote.RunnerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runners[teamID] {
		if r.Number == number {
			return r, nil
		}
	}
	return remote.RunnerRecord{}, ErrNotFound
}

func (m *MemoryRepository) SaveRunner(_ context.Context, teamID string, r remote.RunnerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runners[teamID] == nil {
		m.runners[teamID] = make(map[string]remote.RunnerRecord)
	}
	m.runners[teamID][r.ID] = r
	return nil
}

func (m *MemoryRepository) ListRunners(_ context.Context, teamID string) ([]remote.RunnerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]remote.RunnerRecord, 0, len(m.runners[teamID]))
	for _, r := range m.runners[teamID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemoryRepository) GetLeg(_ context.Context, teamID, id string) (remote.LegRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.legs[teamID][id]
	if !ok {
		return remote.LegRecord{}, ErrNotFound
	}
	return l, nil
}

func (m *MemoryRepository) FindLegByNumber(_ context.Context, teamID string, number int) (remote.LegRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.legs[teamID] {
		if l.Number == number {
			return l, nil
		}
	}
	return remote.LegRecord{}, ErrNotFound
}

func (m *MemoryRepository) SaveLeg(_ context.Context, teamID string, l remote.LegRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.legs[teamID] == nil {
		m.legs[teamID] = make(map[string]remote.LegRecord)
	}
	m.legs[teamID][l.ID] = l
	return nil
}

func (m *MemoryRepository) ListLegs(_ context.Context, teamID string) ([]remote.LegRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]remote.LegRecord, 0, len(m.legs[teamID]))
	for _, l := range m.legs[teamID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
