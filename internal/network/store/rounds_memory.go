package store

import (
	"context"
	"sync"

	"trustnet/internal/network/models"
	"trustnet/pkg/platform/sentinel"
)

// InMemoryRoundStore is an append-only list of consensus rounds.
type InMemoryRoundStore struct {
	mu     sync.RWMutex
	rounds []*models.Round
	index  map[string]int
	stats  models.RoundStats
}

func NewInMemoryRoundStore() *InMemoryRoundStore {
	return &InMemoryRoundStore{index: make(map[string]int)}
}

// Append records a round. Round ids are write-once.
func (s *InMemoryRoundStore) Append(_ context.Context, r *models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[r.ID]; ok {
		return sentinel.ErrConflict
	}
	s.index[r.ID] = len(s.rounds)
	s.rounds = append(s.rounds, r.Clone())
	s.stats.TotalRounds++
	if r.Outcome == models.OutcomeVerified {
		s.stats.SuccessfulRounds++
	} else {
		s.stats.FailedRounds++
	}
	return nil
}

func (s *InMemoryRoundStore) FindByID(_ context.Context, id string) (*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.rounds[i].Clone(), nil
}

// Recent returns up to limit rounds, newest first.
func (s *InMemoryRoundStore) Recent(_ context.Context, limit int) ([]*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.rounds) {
		limit = len(s.rounds)
	}
	out := make([]*models.Round, 0, limit)
	for i := len(s.rounds) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.rounds[i].Clone())
	}
	return out, nil
}

func (s *InMemoryRoundStore) Stats(_ context.Context) (models.RoundStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats, nil
}
