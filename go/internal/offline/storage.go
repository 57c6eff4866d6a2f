package offline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("offline record not found")

// Storage persists queued records, dead letters and sync state. List must
// return records in insertion order.
type Storage interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MarkAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	MoveToDeadLetter(ctx context.Context, dl DeadLetter) error
	DeadLetters(ctx context.Context) ([]DeadLetter, error)
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	Close() error
}

// MemoryStorage keeps everything in process memory
type MemoryStorage struct {
	mu      sync.Mutex
	records []Record
	dead    []DeadLetter
	state   map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: make(map[string]string)}
}

func (m *MemoryStorage) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStorage) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryStorage) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexLocked(id)
	if i < 0 {
		return ErrRecordNotFound
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	return nil
}

func (m *MemoryStorage) MarkAttempt(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexLocked(id)
	if i < 0 {
		return ErrRecordNotFound
	}
	m.records[i].Attempts = attempts
	m.records[i].LastError = lastErr
	return nil
}

func (m *MemoryStorage) MoveToDeadLetter(_ context.Context, dl DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(dl.ID); i >= 0 {
		m.records = append(m.records[:i], m.records[i+1:]...)
	}
	m.dead = append(m.dead, dl)
	return nil
}

func (m *MemoryStorage) DeadLetters(_ context.Context) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, len(m.dead))
	copy(out, m.dead)
	return out, nil
}

func (m *MemoryStorage) GetState(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state[key]
	return v, ok, nil
}

func (m *MemoryStorage) SetState(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key] = value
	return nil
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) indexLocked(id uuid.UUID) int {
	for i, r := range m.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
