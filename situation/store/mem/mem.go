// Package mem provides an in-process situation.Store for the failover
// fallback mode and tests.
package mem

import (
	"context"
	"sync"
	"time"

	"github.com/becomeliminal/companion-core/situation"
)

// Store is an in-process situation.Store.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*situation.Item
	byUser map[string][]string
}

// New creates an empty in-process store.
func New() *Store {
	return &Store{
		byID:   make(map[string]*situation.Item),
		byUser: make(map[string][]string),
	}
}

func (s *Store) Insert(ctx context.Context, it *situation.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := it.Clone()
	s.byID[c.ID] = c
	s.byUser[c.UserID] = append(s.byUser[c.UserID], c.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*situation.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return it.Clone(), nil
}

func (s *Store) Update(ctx context.Context, it *situation.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[it.ID]; !ok {
		return false, nil
	}
	s.byID[it.ID] = it.Clone()
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	delete(s.byID, id)
	ids := s.byUser[it.UserID]
	for i, iid := range ids {
		if iid == id {
			s.byUser[it.UserID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, f situation.Filter) ([]*situation.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*situation.Item
	for _, id := range s.byUser[userID] {
		it := s.byID[id]
		if it == nil {
			continue
		}
		if f.Type != "" && it.Type != f.Type {
			continue
		}
		if !f.IncludeInactive && !it.Active {
			continue
		}
		out = append(out, it.Clone())
	}
	return out, nil
}

func (s *Store) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*situation.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*situation.Item
	for _, it := range s.byID {
		if !it.Active || !it.Expired(now) {
			continue
		}
		out = append(out, it.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
