// Package mem provides an in-process memory.Store. It backs the failover
// fallback mode and the test suites. Records are cloned on the way in and
// out, so callers never share mutable state with the store.
package mem

import (
	"context"
	"sync"
	"time"

	"github.com/becomeliminal/companion-core/memory"
)

// Store is an in-process memory.Store keyed by id with a per-user index.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*memory.Memory
	byUser map[string][]string
}

// New creates an empty in-process store.
func New() *Store {
	return &Store{
		byID:   make(map[string]*memory.Memory),
		byUser: make(map[string][]string),
	}
}

func (s *Store) Insert(ctx context.Context, m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := m.Clone()
	s.byID[c.ID] = c
	s.byUser[c.UserID] = append(s.byUser[c.UserID], c.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (s *Store) Update(ctx context.Context, m *memory.Memory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; !ok {
		return false, nil
	}
	s.byID[m.ID] = m.Clone()
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	delete(s.byID, id)
	ids := s.byUser[m.UserID]
	for i, mid := range ids {
		if mid == id {
			s.byUser[m.UserID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, f memory.Filter) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*memory.Memory
	for _, id := range s.byUser[userID] {
		m := s.byID[id]
		if m == nil {
			continue
		}
		if m.Deleted && !f.IncludeDeleted {
			continue
		}
		if f.Tier != "" && m.Tier != f.Tier {
			continue
		}
		if f.Source != "" && m.Source != f.Source {
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.byUser[userID] {
		if m := s.byID[id]; m != nil && !m.Deleted {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*memory.Memory
	for _, m := range s.byID {
		if m.Deleted || !m.Expired(now) {
			continue
		}
		out = append(out, m.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
