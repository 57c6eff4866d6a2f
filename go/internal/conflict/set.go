package conflict

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrConflictNotFound = errors.New("conflict not found")

// Set is the pending-conflict context. It outlives individual sync passes and
// holds at most one record per leg and field.
type Set struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
}

// NewSet creates an empty conflict set
func NewSet() *Set {
	return &Set{records: make(map[uuid.UUID]Record)}
}

// Add stores records, replacing any pending record for the same leg and field.
// It returns the number of records that were new.
func (s *Set) Add(records ...Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, rec := range records {
		replaced := false
		for id, existing := range s.records {
			if existing.LegID == rec.LegID && existing.Field == rec.Field {
				delete(s.records, id)
				replaced = true
			}
		}
		s.records[rec.ID] = rec
		if !replaced {
			added++
		}
	}
	return added
}

// Pending returns the outstanding records ordered by leg and field
func (s *Set) Pending() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LegID != out[j].LegID {
			return out[i].LegID < out[j].LegID
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Get returns a pending record
func (s *Set) Get(id uuid.UUID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Take removes and returns a pending record
func (s *Set) Take(id uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrConflictNotFound
	}
	delete(s.records, id)
	return rec, nil
}

// Skip discards a pending record without applying anything
func (s *Set) Skip(id uuid.UUID) error {
	_, err := s.Take(id)
	return err
}

// Len returns the number of pending records
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
