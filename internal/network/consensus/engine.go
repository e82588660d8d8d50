// Package consensus runs Proof-of-Trust rounds: it selects the most trusted active
// validators for a verification subject, collects their votes, decides the outcome
// against a quorum and feeds the result back into validator trust scores.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustnet/internal/auditchain"
	"trustnet/internal/network/metrics"
	"trustnet/internal/network/models"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/sentinel"
	"trustnet/pkg/requestcontext"
)

// VoteCollector gathers exactly one vote per validator. Implementations fill NodeID,
// Vote and LatencyMs on each ballot; the engine fills the rest.
type VoteCollector interface {
	Collect(ctx context.Context, subject string, validators []*models.Node) ([]models.Ballot, error)
}

// Registry is the consensus engine's view of the node registry.
type Registry interface {
	ActiveValidators(ctx context.Context, capability models.Capability) ([]*models.Node, error)
	ApplyRound(ctx context.Context, ids []string, update func(nodes []*models.Node) error, record func(ctx context.Context) error) ([]*models.Node, error)
}

// RoundStore persists write-once rounds.
type RoundStore interface {
	Append(ctx context.Context, r *models.Round) error
	FindByID(ctx context.Context, id string) (*models.Round, error)
	Recent(ctx context.Context, limit int) ([]*models.Round, error)
	Stats(ctx context.Context) (models.RoundStats, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, action, actor string, details map[string]any) error
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// RoundRequest asks for one verification decision.
type RoundRequest struct {
	Subject          string
	VerificationType string
	Initiator        string
}

// Engine runs consensus rounds.
type Engine struct {
	registry  Registry
	rounds    RoundStore
	collector VoteCollector
	params    Params
	audit     AuditRecorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithParams(p Params) Option {
	return func(e *Engine) {
		e.params = p
	}
}

func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(e *Engine) {
		e.audit = recorder
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New constructs an Engine. Params default to DefaultParams and are validated.
func New(registry Registry, rounds RoundStore, collector VoteCollector, opts ...Option) (*Engine, error) {
	if registry == nil || rounds == nil || collector == nil {
		return nil, errors.New("registry, round store and vote collector are required")
	}
	e := &Engine{
		registry:  registry,
		rounds:    rounds,
		collector: collector,
		params:    DefaultParams(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("trustnet/consensus"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consensus params: %w", err)
	}
	return e, nil
}

// Params returns the engine's consensus parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Run executes one round. Nothing is recorded when too few validators are eligible
// or vote collection fails.
func (e *Engine) Run(ctx context.Context, req RoundRequest) (*models.Round, error) {
	wallStart := time.Now()
	ctx, span := e.tracer.Start(ctx, "consensus.Run")
	defer span.End()

	round, suspended, err := e.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("round_id", round.ID),
		attribute.String("outcome", string(round.Outcome)),
		attribute.Int("validators", len(round.Ballots)),
	)
	e.metrics.ObserveRound(string(round.Outcome), wallStart)

	actor := requestcontext.ActorID(ctx)
	if err := e.record(ctx, auditchain.ActionConsensusRound, actor, map[string]any{
		"round_id":          round.ID,
		"subject":           round.Subject,
		"verification_type": string(round.VerificationType),
		"outcome":           string(round.Outcome),
		"approvals":         round.Approvals,
		"rejections":        round.Rejections,
		"quorum_needed":     round.QuorumNeeded,
		"validators":        round.ValidatorIDs(),
	}); err != nil {
		return nil, err
	}
	for _, id := range suspended {
		e.metrics.IncrementAutoSuspension()
		if err := e.record(ctx, auditchain.ActionNodeAutoSuspended, requestcontext.SystemActor, map[string]any{
			"node_id":  id,
			"round_id": round.ID,
			"reason":   models.ReasonConsecutiveFailures,
		}); err != nil {
			return nil, err
		}
	}
	return round, nil
}

func (e *Engine) run(ctx context.Context, req RoundRequest) (*models.Round, []string, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	capability := models.Capability(strings.TrimSpace(req.VerificationType))
	if capability == "" {
		capability = models.CapQRVerification
	}
	validatorSpec, _ := models.LookupType(models.NodeTypeValidator)
	if !validatorSpec.HasCapability(capability) {
		return nil, nil, dErrors.Newf(dErrors.CodeValidation, "unsupported verification type %q", capability)
	}

	started := requestcontext.Now(ctx)
	selected, err := e.selectValidators(ctx, capability)
	if err != nil {
		return nil, nil, err
	}

	collectCtx, cancel := context.WithTimeout(ctx, e.params.RoundTimeout)
	defer cancel()
	cast, err := e.collector.Collect(collectCtx, subject, selected)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "vote collection timed out")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "vote collection failed")
	}
	ballots, err := matchBallots(selected, cast)
	if err != nil {
		return nil, nil, err
	}

	quorum := models.QuorumFor(len(selected), e.params.QuorumPct)
	approvals, rejections, outcome := models.Tally(ballots, quorum)
	var slowest int
	for _, b := range ballots {
		slowest = max(slowest, b.LatencyMs)
	}
	round := &models.Round{
		ID:               "CR-" + strings.ToUpper(uuid.NewString()),
		Subject:          subject,
		VerificationType: capability,
		Initiator:        initiator(ctx, req),
		Ballots:          ballots,
		QuorumNeeded:     quorum,
		Approvals:        approvals,
		Rejections:       rejections,
		Outcome:          outcome,
		StartedAt:        started,
		CompletedAt:      started.Add(time.Duration(slowest) * time.Millisecond),
		DurationMs:       int64(slowest),
	}

	winning := models.VoteReject
	if outcome == models.OutcomeVerified {
		winning = models.VoteApprove
	}
	adj := e.params.adjustment()
	votes := make(map[string]models.Vote, len(ballots))
	for _, b := range ballots {
		votes[b.NodeID] = b.Vote
	}

	var suspended []string
	_, err = e.registry.ApplyRound(ctx, round.ValidatorIDs(), func(nodes []*models.Node) error {
		suspended = suspended[:0]
		for _, n := range nodes {
			if n.ApplyRoundResult(votes[n.ID] == winning, adj, started) {
				suspended = append(suspended, n.ID)
			}
		}
		return nil
	}, func(ctx context.Context) error {
		if err := e.rounds.Append(ctx, round); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record consensus round")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.InfoContext(ctx, "consensus round completed",
		"round_id", round.ID,
		"subject", round.Subject,
		"outcome", round.Outcome,
		"approvals", round.Approvals,
		"quorum_needed", round.QuorumNeeded,
		"auto_suspended", suspended,
	)
	return round, suspended, nil
}

// selectValidators returns the top validators by trust, ties broken by node id.
func (e *Engine) selectValidators(ctx context.Context, capability models.Capability) ([]*models.Node, error) {
	candidates, err := e.registry.ActiveValidators(ctx, capability)
	if err != nil {
		return nil, err
	}
	eligible := candidates[:0:0]
	for _, n := range candidates {
		if n.Type == models.NodeTypeValidator {
			eligible = append(eligible, n)
		}
	}
	slices.SortFunc(eligible, func(a, b *models.Node) int {
		switch {
		case a.TrustScore > b.TrustScore:
			return -1
		case a.TrustScore < b.TrustScore:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(eligible) < e.params.MinValidators {
		e.metrics.IncrementInsufficientValidators()
		return nil, dErrors.Newf(dErrors.CodeInsufficientValidators,
			"need %d validators, only %d available", e.params.MinValidators, len(eligible)).
			WithDetail("available", fmt.Sprint(len(eligible))).
			WithDetail("required", fmt.Sprint(e.params.MinValidators))
	}
	if len(eligible) > e.params.MaxValidators {
		eligible = eligible[:e.params.MaxValidators]
	}
	return eligible, nil
}

// matchBallots checks the collector returned exactly one valid vote per selected
// validator and enriches each ballot from the selection snapshot.
func matchBallots(selected []*models.Node, cast []models.Ballot) ([]models.Ballot, error) {
	invalid := func(format string, args ...any) error {
		return dErrors.Newf(dErrors.CodeInternal, "invalid vote set: "+format, args...)
	}
	if len(cast) != len(selected) {
		return nil, invalid("%d votes for %d validators", len(cast), len(selected))
	}
	byID := make(map[string]models.Ballot, len(cast))
	for _, b := range cast {
		if _, dup := byID[b.NodeID]; dup {
			return nil, invalid("duplicate vote from %s", b.NodeID)
		}
		if b.Vote != models.VoteApprove && b.Vote != models.VoteReject {
			return nil, invalid("unknown vote %q from %s", b.Vote, b.NodeID)
		}
		byID[b.NodeID] = b
	}
	out := make([]models.Ballot, 0, len(selected))
	for _, n := range selected {
		b, ok := byID[n.ID]
		if !ok {
			return nil, invalid("missing vote from %s", n.ID)
		}
		out = append(out, models.Ballot{
			NodeID:     n.ID,
			Name:       n.Name,
			Region:     n.Region,
			TrustScore: n.TrustScore,
			Vote:       b.Vote,
			LatencyMs:  b.LatencyMs,
		})
	}
	return out, nil
}

func initiator(ctx context.Context, req RoundRequest) string {
	if s := strings.TrimSpace(req.Initiator); s != "" {
		return s
	}
	return requestcontext.ActorID(ctx)
}

// History returns recent rounds newest first. limit defaults to 20 and is capped at 100.
func (e *Engine) History(ctx context.Context, limit int) ([]*models.Round, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)
	rounds, err := e.rounds.Recent(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consensus history")
	}
	return rounds, nil
}

// Round returns a single round by id.
func (e *Engine) Round(ctx context.Context, id string) (*models.Round, error) {
	r, err := e.rounds.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "round not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load round")
	}
	return r, nil
}

// Stats returns the network consensus counters.
func (e *Engine) Stats(ctx context.Context) (models.RoundStats, error) {
	stats, err := e.rounds.Stats(ctx)
	if err != nil {
		return models.RoundStats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consensus stats")
	}
	return stats, nil
}

func (e *Engine) record(ctx context.Context, action, actor string, details map[string]any) error {
	if e.audit == nil {
		return nil
	}
	if err := e.audit.Record(ctx, action, actor, details); err != nil {
		if dErrors.HasCode(err, dErrors.CodeTamperDetected) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}
	return nil
}
