package registry

import (
	"context"
	"math"

	"trustnet/internal/network/models"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/requestcontext"
)

// RoundStatsSource reports consensus counters for health reporting.
type RoundStatsSource interface {
	Stats(ctx context.Context) (models.RoundStats, error)
}

// Topology counts nodes by region, type and status.
func (s *Service) Topology(ctx context.Context) (*models.Topology, error) {
	nodes, err := s.List(ctx, models.Filter{})
	if err != nil {
		return nil, err
	}
	links, err := s.LinkCount(ctx)
	if err != nil {
		return nil, err
	}
	t := &models.Topology{
		TotalNodes: len(nodes),
		PeerLinks:  links,
		ByRegion:   make(map[models.Region]int),
		ByType:     make(map[models.NodeType]int),
		ByStatus:   make(map[models.NodeStatus]int),
	}
	for _, n := range nodes {
		t.ByRegion[n.Region]++
		t.ByType[n.Type]++
		t.ByStatus[n.Status]++
	}
	return t, nil
}

// Health aggregates trust, uptime and heartbeat freshness across active nodes.
func (s *Service) Health(ctx context.Context, rounds RoundStatsSource) (*models.NetworkHealth, error) {
	active, err := s.List(ctx, models.Filter{Status: models.StatusActive})
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var trust, uptime float64
	stale := 0
	for _, n := range active {
		trust += n.TrustScore
		uptime += n.Health.UptimePct
		if n.Health.LastHeartbeat == nil || now.Sub(*n.Health.LastHeartbeat) > models.StaleAfter {
			stale++
		}
	}

	h := &models.NetworkHealth{
		ActiveNodes: len(active),
		StaleNodes:  stale,
		CheckedAt:   now,
	}
	if len(active) > 0 {
		h.AvgTrustScore = round2(trust / float64(len(active)))
		h.AvgUptimePct = round2(uptime / float64(len(active)))
	}
	if rounds != nil {
		stats, err := rounds.Stats(ctx)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consensus stats")
		}
		h.Consensus = stats
		h.SuccessRatePct = stats.SuccessRate()
	}
	h.Status = models.ClassifyHealth(h.ActiveNodes, h.AvgTrustScore, h.AvgUptimePct, h.StaleNodes)
	return h, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
