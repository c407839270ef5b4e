package knowledge

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), now: time.Now}
}

func (s *MemoryStore) Remember(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[e.Key]; ok {
		e.CreatedAt = old.CreatedAt
	}
	s.entries[e.Key] = stamp(e, s.now())
	return nil
}

func (s *MemoryStore) Recall(_ context.Context, query string, limit int) ([]Match, error) {
	s.mu.RLock()
	all := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.mu.RUnlock()
	return rank(query, all, limit), nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *MemoryStore) Close() error { return nil }
