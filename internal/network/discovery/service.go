// Package discovery suggests and creates peer links between active nodes.
package discovery

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"trustnet/internal/auditchain"
	"trustnet/internal/network/models"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/requestcontext"
)

// MaxCandidates caps a discovery response.
const MaxCandidates = 10

// Registry is the subset of the node registry discovery needs.
type Registry interface {
	Get(ctx context.Context, id string) (*models.Node, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Node, error)
	PeerIDs(ctx context.Context, id string) ([]string, error)
	Peers(ctx context.Context, id string) ([]*models.Node, error)
	Link(ctx context.Context, a, b string) error
}

type AuditRecorder interface {
	Record(ctx context.Context, action, actor string, details map[string]any) error
}

// Candidate is a suggested peer.
type Candidate struct {
	NodeID          string          `json:"node_id"`
	Name            string          `json:"name"`
	Type            models.NodeType `json:"node_type"`
	Region          models.Region   `json:"region"`
	Endpoint        string          `json:"endpoint"`
	TrustScore      float64         `json:"trust_score"`
	SameRegion      bool            `json:"same_region"`
	LatencyTargetMs int             `json:"latency_target_ms"`
	PeerCount       int             `json:"peer_count"`
}

// ConnectResult reports a ConnectPeer call.
type ConnectResult struct {
	NodeID    string `json:"node_id"`
	PeerID    string `json:"peer_id"`
	Connected bool   `json:"connected"`
	Existing  bool   `json:"already_connected"`
}

type Service struct {
	registry Registry
	audit    AuditRecorder
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		s.audit = recorder
	}
}

func New(registry Registry, opts ...Option) *Service {
	s := &Service{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DiscoverPeers ranks active, unlinked nodes for id: same region first, then by
// trust score descending, then by node id.
func (s *Service) DiscoverPeers(ctx context.Context, id string) ([]Candidate, error) {
	self, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	linked, err := s.registry.PeerIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := s.registry.List(ctx, models.Filter{Status: models.StatusActive})
	if err != nil {
		return nil, err
	}

	candidates := make([]*models.Node, 0, len(active))
	for _, n := range active {
		if n.ID == self.ID || slices.Contains(linked, n.ID) {
			continue
		}
		candidates = append(candidates, n)
	}
	slices.SortFunc(candidates, func(a, b *models.Node) int {
		aSame, bSame := a.Region == self.Region, b.Region == self.Region
		switch {
		case aSame && !bSame:
			return -1
		case !aSame && bSame:
			return 1
		case a.TrustScore > b.TrustScore:
			return -1
		case a.TrustScore < b.TrustScore:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}

	out := make([]Candidate, 0, len(candidates))
	for _, n := range candidates {
		peers, err := s.registry.PeerIDs(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		region, _ := models.LookupRegion(n.Region)
		out = append(out, Candidate{
			NodeID:          n.ID,
			Name:            n.Name,
			Type:            n.Type,
			Region:          n.Region,
			Endpoint:        n.Endpoint,
			TrustScore:      n.TrustScore,
			SameRegion:      n.Region == self.Region,
			LatencyTargetMs: region.LatencyTargetMs,
			PeerCount:       len(peers),
		})
	}
	return out, nil
}

// ConnectPeer links a and b. Repeating an existing link succeeds without a new audit entry.
func (s *Service) ConnectPeer(ctx context.Context, a, b string) (*ConnectResult, error) {
	if strings.TrimSpace(b) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "peer_id is required")
	}
	if a == b {
		return nil, dErrors.New(dErrors.CodeValidation, "a node cannot peer with itself")
	}
	for _, id := range []string{a, b} {
		if _, err := s.registry.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	linked, err := s.registry.PeerIDs(ctx, a)
	if err != nil {
		return nil, err
	}
	existing := slices.Contains(linked, b)
	if err := s.registry.Link(ctx, a, b); err != nil {
		return nil, err
	}

	res := &ConnectResult{NodeID: a, PeerID: b, Connected: true, Existing: existing}
	if existing {
		return res, nil
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, auditchain.ActionPeerConnected, requestcontext.ActorID(ctx), map[string]any{
			"node_id": a,
			"peer_id": b,
		}); err != nil {
			if dErrors.HasCode(err, dErrors.CodeTamperDetected) {
				return nil, err
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
		}
	}
	s.logger.InfoContext(ctx, "peer connected",
		"event", auditchain.ActionPeerConnected,
		"log_type", "audit",
		"node_id", a,
		"peer_id", b,
	)
	return res, nil
}

// Peers returns the nodes linked to id.
func (s *Service) Peers(ctx context.Context, id string) ([]*models.Node, error) {
	return s.registry.Peers(ctx, id)
}
