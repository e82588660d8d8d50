// Package store holds node, peer-link and consensus-round persistence.
//
// Node stores expose compare-and-swap on the node's Version so that concurrent writers
// detect lost updates instead of silently overwriting each other. Every value returned
// from a store is a copy.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"trustnet/internal/network/models"
	"trustnet/pkg/platform/sentinel"
)

// InMemoryNodeStore keeps nodes in process memory.
type InMemoryNodeStore struct {
	mu    sync.RWMutex
	nodes map[string]*models.Node
}

// NewInMemoryNodeStore constructs an empty node store.
func NewInMemoryNodeStore() *InMemoryNodeStore {
	return &InMemoryNodeStore{nodes: make(map[string]*models.Node)}
}

// Create stores a new node at version 1.
func (s *InMemoryNodeStore) Create(_ context.Context, n *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.ID]; ok {
		return sentinel.ErrConflict
	}
	n.Version = 1
	s.nodes[n.ID] = n.Clone()
	return nil
}

// Delete removes a node. It is only used to undo a registration that could not be audited.
func (s *InMemoryNodeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.nodes, id)
	return nil
}

func (s *InMemoryNodeStore) FindByID(_ context.Context, id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return n.Clone(), nil
}

// List returns matching nodes ordered by registration time, then id.
func (s *InMemoryNodeStore) List(_ context.Context, filter models.Filter) ([]*models.Node, error) {
	s.mu.RLock()
	out := make([]*models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if filter.Matches(n) {
			out = append(out, n.Clone())
		}
	}
	s.mu.RUnlock()
	SortByRegistration(out)
	return out, nil
}

// CompareAndSwap replaces the stored node iff its version equals n.Version.
// On success n.Version is advanced to the stored version.
func (s *InMemoryNodeStore) CompareAndSwap(ctx context.Context, n *models.Node) error {
	return s.CompareAndSwapAll(ctx, []*models.Node{n})
}

// CompareAndSwapAll applies every update or none of them.
func (s *InMemoryNodeStore) CompareAndSwapAll(_ context.Context, nodes []*models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		current, ok := s.nodes[n.ID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if current.Version != n.Version {
			return sentinel.ErrConflict
		}
	}
	for _, n := range nodes {
		n.Version++
		s.nodes[n.ID] = n.Clone()
	}
	return nil
}

// SortByRegistration orders nodes by registration time, breaking ties by id.
func SortByRegistration(nodes []*models.Node) {
	slices.SortFunc(nodes, func(a, b *models.Node) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
