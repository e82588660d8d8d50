package store

import (
	"context"
	"slices"
	"sync"
)

// InMemoryPeerStore keeps the undirected peer graph as an adjacency map.
type InMemoryPeerStore struct {
	mu    sync.RWMutex
	edges map[string]map[string]struct{}
}

func NewInMemoryPeerStore() *InMemoryPeerStore {
	return &InMemoryPeerStore{edges: make(map[string]map[string]struct{})}
}

// Connect links a and b in both directions. Linking an existing pair is a no-op.
func (s *InMemoryPeerStore) Connect(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(a, b)
	s.add(b, a)
	return nil
}

func (s *InMemoryPeerStore) add(from, to string) {
	set, ok := s.edges[from]
	if !ok {
		set = make(map[string]struct{})
		s.edges[from] = set
	}
	set[to] = struct{}{}
}

// DisconnectAll removes every link touching id and returns the former peers.
func (s *InMemoryPeerStore) DisconnectAll(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]string, 0, len(s.edges[id]))
	for p := range s.edges[id] {
		peers = append(peers, p)
		delete(s.edges[p], id)
		if len(s.edges[p]) == 0 {
			delete(s.edges, p)
		}
	}
	delete(s.edges, id)
	slices.Sort(peers)
	return peers, nil
}

// Peers lists the ids linked to id in ascending order.
func (s *InMemoryPeerStore) Peers(_ context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]string, 0, len(s.edges[id]))
	for p := range s.edges[id] {
		peers = append(peers, p)
	}
	slices.Sort(peers)
	return peers, nil
}

// LinkCount returns the number of undirected links.
func (s *InMemoryPeerStore) LinkCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, set := range s.edges {
		total += len(set)
	}
	return total / 2, nil
}
