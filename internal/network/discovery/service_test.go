package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"trustnet/internal/auditchain"
	"trustnet/internal/network/models"
	"trustnet/internal/network/registry"
	"trustnet/internal/network/store"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/requestcontext"
)

// fakeRegistry serves fixed nodes and links so ranking can be checked without the
// registry's automatic same-region linking.
type fakeRegistry struct {
	nodes map[string]*models.Node
	links map[string][]string
}

func (f *fakeRegistry) Get(_ context.Context, id string) (*models.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "node not found")
	}
	return n, nil
}

func (f *fakeRegistry) List(_ context.Context, filter models.Filter) ([]*models.Node, error) {
	var out []*models.Node
	for _, n := range f.nodes {
		if filter.Matches(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeRegistry) PeerIDs(_ context.Context, id string) ([]string, error) {
	return f.links[id], nil
}

func (f *fakeRegistry) Peers(context.Context, string) ([]*models.Node, error) { return nil, nil }
func (f *fakeRegistry) Link(context.Context, string, string) error            { return nil }

func (f *fakeRegistry) add(id string, region models.Region, status models.NodeStatus, trust float64) {
	f.nodes[id] = &models.Node{ID: id, Type: models.NodeTypeValidator, Region: region, Status: status, TrustScore: trust}
}

func TestDiscoverPeersRanking(t *testing.T) {
	reg := &fakeRegistry{nodes: map[string]*models.Node{}, links: map[string][]string{}}
	reg.add("NODE-SELF", "eu-west", models.StatusActive, 100)
	reg.add("NODE-A", "us-east", models.StatusActive, 99)
	reg.add("NODE-B", "eu-west", models.StatusActive, 90)
	reg.add("NODE-C", "eu-west", models.StatusActive, 95)
	reg.add("NODE-D", "us-east", models.StatusActive, 99)
	reg.add("NODE-E", "eu-west", models.StatusSuspended, 100)
	reg.add("NODE-F", "eu-west", models.StatusActive, 100)
	reg.links["NODE-SELF"] = []string{"NODE-F"}
	reg.links["NODE-F"] = []string{"NODE-SELF"}
	reg.links["NODE-A"] = []string{"NODE-D"}

	got, err := New(reg).DiscoverPeers(context.Background(), "NODE-SELF")
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.NodeID
	}
	assert.Equal(t, []string{"NODE-C", "NODE-B", "NODE-A", "NODE-D"}, ids)
	assert.True(t, got[0].SameRegion)
	assert.Equal(t, 40, got[0].LatencyTargetMs)
	assert.Equal(t, 30, got[2].LatencyTargetMs)
	assert.Equal(t, 1, got[2].PeerCount)
}

func TestDiscoverPeersIsCapped(t *testing.T) {
	reg := &fakeRegistry{nodes: map[string]*models.Node{}, links: map[string][]string{}}
	reg.add("NODE-SELF", "eu-west", models.StatusActive, 100)
	for i := range 15 {
		reg.add(fmt.Sprintf("NODE-%02d", i), "ap-east", models.StatusActive, 100)
	}

	got, err := New(reg).DiscoverPeers(context.Background(), "NODE-SELF")
	require.NoError(t, err)
	require.Len(t, got, MaxCandidates)
	assert.Equal(t, "NODE-00", got[0].NodeID)
	assert.Equal(t, "NODE-09", got[9].NodeID)
}

type ConnectSuite struct {
	suite.Suite
	registry *registry.Service
	entries  *auditchain.InMemoryStore
	service  *Service
	ctx      context.Context
}

func TestConnectSuite(t *testing.T) {
	suite.Run(t, new(ConnectSuite))
}

func (s *ConnectSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.entries = auditchain.NewInMemoryStore()
	chain := auditchain.New(s.entries)
	s.registry = registry.New(store.NewInMemoryNodeStore(), store.NewInMemoryPeerStore(),
		registry.WithLogger(logger), registry.WithAuditRecorder(chain))
	s.service = New(s.registry, WithLogger(logger), WithAuditRecorder(chain))
	ctx := requestcontext.WithCaller(context.Background(), requestcontext.Caller{ID: "u-ops", Role: "blockchain_operator"})
	s.ctx = requestcontext.WithTime(ctx, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func (s *ConnectSuite) node(region string, activate bool) string {
	n, _, err := s.registry.Register(s.ctx, registry.RegisterRequest{
		NodeType: "relay",
		Region:   region,
		Endpoint: "https://relay.example.com",
	})
	s.Require().NoError(err)
	if activate {
		_, err = s.registry.Activate(s.ctx, n.ID)
		s.Require().NoError(err)
	}
	return n.ID
}

func (s *ConnectSuite) peerConnectedEntries() int {
	all, err := s.entries.All(context.Background())
	s.Require().NoError(err)
	count := 0
	for _, e := range all {
		if e.Action == auditchain.ActionPeerConnected {
			count++
		}
	}
	return count
}

func (s *ConnectSuite) TestConnectPeer() {
	a := s.node("eu-west", true)
	b := s.node("us-east", true)

	candidates, err := s.service.DiscoverPeers(s.ctx, a)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(b, candidates[0].NodeID)

	res, err := s.service.ConnectPeer(s.ctx, a, b)
	s.Require().NoError(err)
	s.False(res.Existing)
	s.Equal(1, s.peerConnectedEntries())

	peers, err := s.service.Peers(s.ctx, b)
	s.Require().NoError(err)
	s.Require().Len(peers, 1)
	s.Equal(a, peers[0].ID)

	s.Run("is idempotent", func() {
		res, err := s.service.ConnectPeer(s.ctx, a, b)
		s.Require().NoError(err)
		s.True(res.Existing)
		s.Equal(1, s.peerConnectedEntries())
	})

	s.Run("linked nodes are no longer candidates", func() {
		candidates, err := s.service.DiscoverPeers(s.ctx, a)
		s.Require().NoError(err)
		s.Empty(candidates)
	})
}

func (s *ConnectSuite) TestConnectPeerRejections() {
	active := s.node("eu-west", true)
	pending := s.node("us-east", false)

	_, err := s.service.ConnectPeer(s.ctx, active, active)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.ConnectPeer(s.ctx, active, "NODE-000000000000")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.ConnectPeer(s.ctx, active, pending)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	s.Zero(s.peerConnectedEntries())
}
