package consensus

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks -exclude_interfaces=Registry,RoundStore,AuditRecorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustnet/internal/auditchain"
	"trustnet/internal/network/consensus/mocks"
	"trustnet/internal/network/models"
	"trustnet/internal/network/registry"
	"trustnet/internal/network/store"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/requestcontext"
	"trustnet/pkg/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type EngineSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	collector *mocks.MockVoteCollector
	registry  *registry.Service
	rounds    *store.InMemoryRoundStore
	entries   *auditchain.InMemoryStore
	engine    *Engine
	ctx       context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.collector = mocks.NewMockVoteCollector(s.ctrl)
	s.rounds = store.NewInMemoryRoundStore()
	s.entries = auditchain.NewInMemoryStore()
	chain := auditchain.New(s.entries)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.registry = registry.New(store.NewInMemoryNodeStore(), store.NewInMemoryPeerStore(),
		registry.WithLogger(logger),
		registry.WithAuditRecorder(chain),
	)
	engine, err := New(s.registry, s.rounds, s.collector,
		WithLogger(logger),
		WithAuditRecorder(chain),
	)
	s.Require().NoError(err)
	s.engine = engine

	s.ctx = testutil.CallerContext("u-qr-service", "blockchain_operator", "", t0)
}

func (s *EngineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *EngineSuite) activeValidators(n int) []string {
	ids := make([]string, 0, n)
	for range n {
		node, _, err := s.registry.Register(s.ctx, registry.RegisterRequest{
			OperatorID: "op-1",
			NodeType:   "validator",
			Region:     "eu-west",
			Endpoint:   "https://validator.example.com",
		})
		s.Require().NoError(err)
		_, err = s.registry.Activate(s.ctx, node.ID)
		s.Require().NoError(err)
		ids = append(ids, node.ID)
	}
	return ids
}

// votes answers every validator with approve unless it is listed in rejecters.
func votes(rejecters ...string) func(context.Context, string, []*models.Node) ([]models.Ballot, error) {
	reject := make(map[string]bool, len(rejecters))
	for _, id := range rejecters {
		reject[id] = true
	}
	return func(_ context.Context, _ string, validators []*models.Node) ([]models.Ballot, error) {
		out := make([]models.Ballot, len(validators))
		for i, v := range validators {
			vote := models.VoteApprove
			if reject[v.ID] {
				vote = models.VoteReject
			}
			out[i] = models.Ballot{NodeID: v.ID, Vote: vote, LatencyMs: 100 + i*10}
		}
		return out, nil
	}
}

func (s *EngineSuite) auditActions() []string {
	all, err := s.entries.All(context.Background())
	s.Require().NoError(err)
	out := make([]string, 0, len(all))
	for _, e := range all {
		if e.Action == auditchain.ActionConsensusRound || e.Action == auditchain.ActionNodeAutoSuspended {
			out = append(out, e.Action)
		}
	}
	return out
}

func (s *EngineSuite) TestInsufficientValidatorsRecordsNothing() {
	s.activeValidators(2)

	_, err := s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-001"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientValidators))
	de, ok := dErrors.As(err)
	s.Require().True(ok)
	s.Equal("2", de.Details["available"])
	s.Equal("3", de.Details["required"])

	stats, err := s.engine.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.TotalRounds)
	s.Empty(s.auditActions())
}

func (s *EngineSuite) TestUnanimousRoundIsVerified() {
	ids := s.activeValidators(3)
	s.collector.EXPECT().Collect(gomock.Any(), "PRD-001", gomock.Len(3)).DoAndReturn(votes())

	round, err := s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-001"})
	s.Require().NoError(err)

	s.Equal(models.OutcomeVerified, round.Outcome)
	s.Equal(3, round.QuorumNeeded)
	s.Equal(3, round.Approvals)
	s.Zero(round.Rejections)
	s.Equal(models.CapQRVerification, round.VerificationType)
	s.Equal("u-qr-service", round.Initiator)
	s.Contains(round.ID, "CR-")
	s.EqualValues(120, round.DurationMs)
	s.ElementsMatch(ids, round.ValidatorIDs())

	stored, err := s.engine.Round(s.ctx, round.ID)
	s.Require().NoError(err)
	s.Equal(round.Outcome, stored.Outcome)
	s.Equal([]string{auditchain.ActionConsensusRound}, s.auditActions())

	for _, id := range ids {
		n, err := s.registry.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(models.MaxTrustScore, n.TrustScore)
		s.Equal(1, n.Health.SuccessfulRounds)
	}
}

func (s *EngineSuite) TestQuorumDecidesOutcome() {
	ids := s.activeValidators(5)
	// ceil(5 * 0.67) = 4; three approvals fall short.
	s.collector.EXPECT().Collect(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(votes(ids[0], ids[1]))

	round, err := s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-002"})
	s.Require().NoError(err)
	s.Equal(4, round.QuorumNeeded)
	s.Equal(3, round.Approvals)
	s.Equal(2, round.Rejections)
	s.Equal(models.OutcomeRejected, round.Outcome)

	rejecter, err := s.registry.Get(s.ctx, ids[0])
	s.Require().NoError(err)
	s.Equal(models.MaxTrustScore, rejecter.TrustScore, "rejecters voted with the outcome")

	approver, err := s.registry.Get(s.ctx, ids[4])
	s.Require().NoError(err)
	s.InDelta(99.95, approver.TrustScore, 1e-9)
	s.Equal(1, approver.Health.ConsecutiveFailures)
}

func (s *EngineSuite) TestRepeatedDissentAutoSuspends() {
	ids := s.activeValidators(4)
	dissenter := ids[2]
	s.collector.EXPECT().Collect(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(votes(dissenter)).Times(3)

	for i := range 3 {
		round, err := s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-100"})
		s.Require().NoError(err, "round %d", i)
		s.Equal(models.OutcomeVerified, round.Outcome)
	}

	n, err := s.registry.Get(s.ctx, dissenter)
	s.Require().NoError(err)
	s.Equal(models.StatusSuspended, n.Status)
	s.Equal(models.ReasonConsecutiveFailures, n.SuspensionReason)
	s.InDelta(99.85, n.TrustScore, 1e-9)
	s.Equal(3, n.Health.FailedRounds)

	s.Equal([]string{
		auditchain.ActionConsensusRound,
		auditchain.ActionConsensusRound,
		auditchain.ActionConsensusRound,
		auditchain.ActionNodeAutoSuspended,
	}, s.auditActions())

	s.Run("suspended validators are no longer selected", func() {
		s.collector.EXPECT().Collect(gomock.Any(), gomock.Any(), gomock.Len(3)).DoAndReturn(votes())
		round, err := s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-101"})
		s.Require().NoError(err)
		s.NotContains(round.ValidatorIDs(), dissenter)
	})
}

func (s *EngineSuite) TestRoundStartsBeforeVoteCollection() {
	s.activeValidators(3)
	var collecting time.Time
	s.collector.EXPECT().Collect(gomock.Any(), gomock.Any(), gomock.Len(3)).DoAndReturn(
		func(ctx context.Context, subject string, validators []*models.Node) ([]models.Ballot, error) {
			collecting = time.Now()
			time.Sleep(20 * time.Millisecond)
			return votes()(ctx, subject, validators)
		})

	// No pinned request time, so the round reads the wall clock.
	ctx := requestcontext.WithCaller(context.Background(), requestcontext.Caller{ID: "u-qr-service", Role: "blockchain_operator"})
	round, err := s.engine.Run(ctx, RoundRequest{Subject: "PRD-001"})
	s.Require().NoError(err)

	s.False(round.StartedAt.After(collecting), "started %v, collecting %v", round.StartedAt, collecting)
	s.Equal(round.StartedAt.Add(120*time.Millisecond), round.CompletedAt)
}

func (s *EngineSuite) TestCollectorFailureRecordsNothing() {
	ids := s.activeValidators(3)
	s.collector.EXPECT().Collect(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("validator unreachable"))

	_, err := s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-003"})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	stats, err := s.engine.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.TotalRounds)
	n, err := s.registry.Get(s.ctx, ids[0])
	s.Require().NoError(err)
	s.Zero(n.Health.TotalRounds)
}

func (s *EngineSuite) TestInvalidVoteSetIsRejected() {
	ids := s.activeValidators(3)
	tests := []struct {
		name    string
		ballots []models.Ballot
	}{
		{"missing vote", []models.Ballot{
			{NodeID: ids[0], Vote: models.VoteApprove},
			{NodeID: ids[1], Vote: models.VoteApprove},
		}},
		{"duplicate voter", []models.Ballot{
			{NodeID: ids[0], Vote: models.VoteApprove},
			{NodeID: ids[0], Vote: models.VoteApprove},
			{NodeID: ids[1], Vote: models.VoteApprove},
		}},
		{"unknown vote", []models.Ballot{
			{NodeID: ids[0], Vote: models.VoteApprove},
			{NodeID: ids[1], Vote: models.VoteApprove},
			{NodeID: ids[2], Vote: "abstain"},
		}},
		{"stranger", []models.Ballot{
			{NodeID: ids[0], Vote: models.VoteApprove},
			{NodeID: ids[1], Vote: models.VoteApprove},
			{NodeID: "NODE-STRANGER", Vote: models.VoteApprove},
		}},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.collector.EXPECT().Collect(gomock.Any(), gomock.Any(), gomock.Any()).Return(tc.ballots, nil)
			_, err := s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-004"})
			s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		})
	}
	stats, err := s.engine.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.TotalRounds)
}

func (s *EngineSuite) TestRequestValidation() {
	s.activeValidators(3)

	_, err := s.engine.Run(s.ctx, RoundRequest{Subject: "  "})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-005", VerificationType: "mind_reading"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *EngineSuite) TestHistoryAndLookup() {
	s.activeValidators(3)
	s.collector.EXPECT().Collect(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(votes()).Times(3)
	var last *models.Round
	for range 3 {
		r, err := s.engine.Run(s.ctx, RoundRequest{Subject: "PRD-006", VerificationType: "carbon_settlement"})
		s.Require().NoError(err)
		last = r
	}

	all, err := s.engine.History(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(all, 3)
	s.Equal(last.ID, all[0].ID)

	two, err := s.engine.History(s.ctx, 2)
	s.Require().NoError(err)
	s.Len(two, 2)

	_, err = s.engine.Round(s.ctx, "CR-MISSING")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	stats, err := s.engine.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, stats.TotalRounds)
	s.Equal(3, stats.SuccessfulRounds)
	s.InDelta(100.0, stats.SuccessRate(), 1e-9)
}

func TestNewRejectsBadParams(t *testing.T) {
	reg := registry.New(store.NewInMemoryNodeStore(), store.NewInMemoryPeerStore())
	rounds := store.NewInMemoryRoundStore()

	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"min below one", func(p *Params) { p.MinValidators = 0 }},
		{"max below min", func(p *Params) { p.MaxValidators = 2 }},
		{"quorum zero", func(p *Params) { p.QuorumPct = 0 }},
		{"quorum above 100", func(p *Params) { p.QuorumPct = 101 }},
		{"no timeout", func(p *Params) { p.RoundTimeout = 0 }},
		{"negative penalty", func(p *Params) { p.SlashPerFail = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			tc.mutate(&p)
			_, err := New(reg, rounds, NewSimulatedCollector(), WithParams(p))
			assert.Error(t, err)
		})
	}

	_, err := New(reg, rounds, NewSimulatedCollector())
	assert.NoError(t, err)
}

func TestSimulatedCollector(t *testing.T) {
	validators := make([]*models.Node, 7)
	for i := range validators {
		validators[i] = &models.Node{ID: "NODE-" + string(rune('A'+i))}
	}

	t.Run("one ballot per validator with bounded latency", func(t *testing.T) {
		ballots, err := NewSimulatedCollector().Collect(context.Background(), "PRD-1", validators)
		require.NoError(t, err)
		require.Len(t, ballots, len(validators))
		for i, b := range ballots {
			assert.Equal(t, validators[i].ID, b.NodeID)
			assert.Contains(t, []models.Vote{models.VoteApprove, models.VoteReject}, b.Vote)
			assert.GreaterOrEqual(t, b.LatencyMs, 50)
			assert.LessOrEqual(t, b.LatencyMs, 450)
		}
	})

	t.Run("certain approval", func(t *testing.T) {
		ballots, err := NewSimulatedCollector(WithApproveProbability(1)).Collect(context.Background(), "PRD-1", validators)
		require.NoError(t, err)
		for _, b := range ballots {
			assert.Equal(t, models.VoteApprove, b.Vote)
		}
	})

	t.Run("certain rejection", func(t *testing.T) {
		ballots, err := NewSimulatedCollector(WithApproveProbability(0)).Collect(context.Background(), "PRD-1", validators)
		require.NoError(t, err)
		for _, b := range ballots {
			assert.Equal(t, models.VoteReject, b.Vote)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewSimulatedCollector().Collect(ctx, "PRD-1", validators)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
