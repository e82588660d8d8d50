package auditchain

import (
	"context"
	"sync"

	"trustnet/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in a slice, indexed by hash.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	byHash  map[string]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byHash: make(map[string]int)}
}

func (s *InMemoryStore) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Seq != int64(len(s.entries))+1 {
		return sentinel.ErrConflict
	}
	if _, ok := s.byHash[e.Hash]; ok {
		return sentinel.ErrConflict
	}
	s.byHash[e.Hash] = len(s.entries)
	s.entries = append(s.entries, e.Clone())
	return nil
}

func (s *InMemoryStore) Last(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return s.entries[len(s.entries)-1].Clone(), nil
}

func (s *InMemoryStore) All(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out, nil
}

func (s *InMemoryStore) Recent(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]*Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i].Clone())
	}
	return out, nil
}

// FindByHash returns the entry with the given hash.
func (s *InMemoryStore) FindByHash(_ context.Context, hash string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.entries[i].Clone(), nil
}

// Tamper rewrites a stored entry in place. It exists so integrity checks can be
// exercised against a store that was modified behind the chain's back.
func (s *InMemoryStore) Tamper(seq int64, fn func(e *Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < 1 || int(seq) > len(s.entries) {
		return
	}
	fn(s.entries[seq-1])
}
