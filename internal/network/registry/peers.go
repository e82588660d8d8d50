package registry

import (
	"context"

	"trustnet/internal/network/models"
	dErrors "trustnet/pkg/domain-errors"
)

// Link connects two active nodes. Both node locks are held so neither endpoint can
// leave active while the edge is written.
func (s *Service) Link(ctx context.Context, a, b string) error {
	if a == b {
		return dErrors.New(dErrors.CodeValidation, "a node cannot peer with itself")
	}
	unlock := s.locks.LockAll(a, b)
	defer unlock()

	for _, id := range []string{a, b} {
		n, err := s.nodes.FindByID(ctx, id)
		if err != nil {
			return translateStoreErr(err, "failed to load node")
		}
		if !n.IsActive() {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "node %s is %s; only active nodes can peer", n.ID, n.Status)
		}
	}
	if err := s.peers.Connect(ctx, a, b); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store peer link")
	}
	return nil
}

// PeerIDs lists the ids linked to a node.
func (s *Service) PeerIDs(ctx context.Context, id string) ([]string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	ids, err := s.peers.Peers(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load peers")
	}
	return ids, nil
}

// Peers returns the nodes linked to id.
func (s *Service) Peers(ctx context.Context, id string) ([]*models.Node, error) {
	ids, err := s.PeerIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Node, 0, len(ids))
	for _, pid := range ids {
		n, err := s.nodes.FindByID(ctx, pid)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// LinkCount returns the number of undirected peer links.
func (s *Service) LinkCount(ctx context.Context) (int, error) {
	n, err := s.peers.LinkCount(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count peer links")
	}
	return n, nil
}
