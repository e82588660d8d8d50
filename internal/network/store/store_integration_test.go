//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustnet/internal/network/models"
	"trustnet/internal/network/store"
	"trustnet/pkg/platform/sentinel"
	"trustnet/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	nodes *store.RedisNodeStore
	peers *store.RedisPeerStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.nodes = store.NewRedisNodeStore(s.redis.Client)
	s.peers = store.NewRedisPeerStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) node(id string) *models.Node {
	n, err := models.NewNode(id, "op-1", "", models.NodeTypeValidator, "eu-west", "https://"+id+".example.com", "bcrypt-hash", time.Now().UTC())
	s.Require().NoError(err)
	return n
}

func (s *RedisStoreSuite) TestCreateFindKeepsCredentialDigest() {
	ctx := context.Background()
	s.Require().NoError(s.nodes.Create(ctx, s.node("NODE-1")))
	s.ErrorIs(s.nodes.Create(ctx, s.node("NODE-1")), sentinel.ErrConflict)

	found, err := s.nodes.FindByID(ctx, "NODE-1")
	s.Require().NoError(err)
	s.Equal("bcrypt-hash", found.CredentialHash)
	s.Equal(int64(1), found.Version)

	_, err = s.nodes.FindByID(ctx, "NODE-2")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestCompareAndSwapAll() {
	ctx := context.Background()
	s.Require().NoError(s.nodes.Create(ctx, s.node("NODE-1")))
	s.Require().NoError(s.nodes.Create(ctx, s.node("NODE-2")))

	a, _ := s.nodes.FindByID(ctx, "NODE-1")
	b, _ := s.nodes.FindByID(ctx, "NODE-2")
	a.TrustScore, b.TrustScore = 95, 96
	s.Require().NoError(s.nodes.CompareAndSwapAll(ctx, []*models.Node{a, b}))
	s.Equal(int64(2), a.Version)

	stale, _ := s.nodes.FindByID(ctx, "NODE-1")
	stale.Version = 1
	s.ErrorIs(s.nodes.CompareAndSwap(ctx, stale), sentinel.ErrConflict)

	list, err := s.nodes.List(ctx, models.Filter{Type: models.NodeTypeValidator})
	s.Require().NoError(err)
	s.Len(list, 2)
}

func (s *RedisStoreSuite) TestPeers() {
	ctx := context.Background()
	s.Require().NoError(s.peers.Connect(ctx, "A", "B"))
	s.Require().NoError(s.peers.Connect(ctx, "A", "C"))

	count, err := s.peers.LinkCount(ctx)
	s.Require().NoError(err)
	s.Equal(2, count)

	removed, err := s.peers.DisconnectAll(ctx, "A")
	s.Require().NoError(err)
	s.Equal([]string{"B", "C"}, removed)

	peers, _ := s.peers.Peers(ctx, "B")
	s.Empty(peers)
}

type PostgresRoundSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	rounds *store.PostgresRoundStore
}

func TestPostgresRoundSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRoundSuite))
}

func (s *PostgresRoundSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.rounds = store.NewPostgresRoundStore(s.pg.DB)
	s.Require().NoError(s.rounds.Migrate(context.Background()))
}

func (s *PostgresRoundSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background(), "consensus_rounds"))
}

func (s *PostgresRoundSuite) TestAppendRecentStats() {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)
	for i, outcome := range []models.Outcome{models.OutcomeVerified, models.OutcomeRejected, models.OutcomeVerified} {
		r := &models.Round{
			ID:               string(rune('a' + i)),
			Subject:          "PRD-1",
			VerificationType: models.CapQRVerification,
			Initiator:        "u-1",
			Ballots:          []models.Ballot{{NodeID: "NODE-1", Vote: models.VoteApprove, LatencyMs: 80}},
			QuorumNeeded:     1,
			Approvals:        1,
			Outcome:          outcome,
			StartedAt:        started,
			CompletedAt:      started.Add(time.Millisecond),
			DurationMs:       1,
		}
		s.Require().NoError(s.rounds.Append(ctx, r))
	}
	s.ErrorIs(s.rounds.Append(ctx, &models.Round{ID: "a", StartedAt: started, CompletedAt: started}), sentinel.ErrConflict)

	recent, err := s.rounds.Recent(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("c", recent[0].ID)
	s.Equal("NODE-1", recent[0].Ballots[0].NodeID)

	stats, err := s.rounds.Stats(ctx)
	s.Require().NoError(err)
	s.Equal(models.RoundStats{TotalRounds: 3, SuccessfulRounds: 2, FailedRounds: 1}, stats)

	_, err = s.rounds.FindByID(ctx, "zzz")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
