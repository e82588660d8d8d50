package registry

import (
	"context"
	"errors"

	"trustnet/internal/network/models"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/sentinel"
)

// ApplyRound is the consensus engine's write path into the registry.
//
// It locks every listed node, hands copies to update, and swaps all of them in one
// batch. record then persists the round while the locks are still held; if record
// fails, the previous node state is written back so a round is either fully applied
// or not at all. Nodes that update moved out of active lose their peer links.
func (s *Service) ApplyRound(ctx context.Context, ids []string, update func(nodes []*models.Node) error, record func(ctx context.Context) error) ([]*models.Node, error) {
	unlock := s.locks.LockAll(ids...)
	defer unlock()

	nodes := make([]*models.Node, len(ids))
	before := make([]*models.Node, len(ids))
	for i, id := range ids {
		n, err := s.nodes.FindByID(ctx, id)
		if err != nil {
			return nil, translateStoreErr(err, "failed to load validator")
		}
		nodes[i] = n
		before[i] = n.Clone()
	}

	if err := update(nodes); err != nil {
		return nil, err
	}
	if err := s.nodes.CompareAndSwapAll(ctx, nodes); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementLostUpdate()
		}
		return nil, translateStoreErr(err, "failed to apply round scores")
	}

	if err := record(ctx); err != nil {
		for i := range before {
			before[i].Version = nodes[i].Version
		}
		if rbErr := s.nodes.CompareAndSwapAll(ctx, before); rbErr != nil {
			s.logger.ErrorContext(ctx, "failed to roll back round scores",
				"error", rbErr,
				"validators", ids,
			)
		}
		return nil, err
	}

	for i, n := range nodes {
		if before[i].IsActive() && !n.IsActive() {
			if err := s.unlinkAll(ctx, n); err != nil {
				return nil, err
			}
			s.metrics.IncrementTransition(string(n.Status))
		}
	}
	return nodes, nil
}

// ActiveValidators returns active nodes able to perform capability.
func (s *Service) ActiveValidators(ctx context.Context, capability models.Capability) ([]*models.Node, error) {
	active, err := s.nodes.List(ctx, models.Filter{Status: models.StatusActive})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list validators")
	}
	out := make([]*models.Node, 0, len(active))
	for _, n := range active {
		if n.Spec().HasCapability(capability) {
			out = append(out, n)
		}
	}
	return out, nil
}
