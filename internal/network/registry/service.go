// Package registry owns the node lifecycle and the peer graph.
//
// Every write to a node goes through a per-node lock followed by a compare-and-swap
// against the store, so the direct lifecycle operations and the consensus engine's
// score/auto-suspend path (ApplyRound) serialise on the same lock.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/asaskevich/govalidator"

	"trustnet/internal/auditchain"
	"trustnet/internal/network/credential"
	"trustnet/internal/network/metrics"
	"trustnet/internal/network/models"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/keylock"
	"trustnet/pkg/platform/sentinel"
	"trustnet/pkg/requestcontext"
)

// NextHeartbeatMs is the interval nodes are told to wait before the next heartbeat.
const NextHeartbeatMs = 30000

type NodeStore interface {
	Create(ctx context.Context, n *models.Node) error
	FindByID(ctx context.Context, id string) (*models.Node, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Node, error)
	CompareAndSwap(ctx context.Context, n *models.Node) error
	CompareAndSwapAll(ctx context.Context, nodes []*models.Node) error
	Delete(ctx context.Context, id string) error
}

type PeerStore interface {
	Connect(ctx context.Context, a, b string) error
	DisconnectAll(ctx context.Context, id string) ([]string, error)
	Peers(ctx context.Context, id string) ([]string, error)
	LinkCount(ctx context.Context) (int, error)
}

// AuditRecorder appends accepted mutations to the audit chain.
type AuditRecorder interface {
	Record(ctx context.Context, action, actor string, details map[string]any) error
}

// Service manages node registration, lifecycle transitions and peer links.
type Service struct {
	nodes   NodeStore
	peers   PeerStore
	locks   *keylock.Locker
	audit   AuditRecorder
	logger  *slog.Logger
	metrics *metrics.Metrics
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a registry Service.
func New(nodes NodeStore, peers PeerStore, opts ...Option) *Service {
	s := &Service{
		nodes:  nodes,
		peers:  peers,
		locks:  keylock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest carries the operator-supplied registration fields.
type RegisterRequest struct {
	OperatorID string
	NodeType   string
	Region     string
	Endpoint   string
	Name       string
}

// Register creates a pending node and returns it with its one-time credential.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Node, string, error) {
	nodeType, err := models.ParseNodeType(strings.TrimSpace(req.NodeType))
	if err != nil {
		return nil, "", err
	}
	region, err := models.ParseRegion(strings.TrimSpace(req.Region))
	if err != nil {
		return nil, "", err
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		return nil, "", dErrors.New(dErrors.CodeMissingEndpoint, "endpoint is required")
	}
	if !govalidator.IsURL(endpoint) {
		return nil, "", dErrors.New(dErrors.CodeValidation, "endpoint must be a valid URL")
	}

	id, err := models.NewNodeID()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate node id")
	}
	plain, digest, err := credential.Issue()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue credential")
	}

	node, err := models.NewNode(id, req.OperatorID, strings.TrimSpace(req.Name), nodeType, region, endpoint, digest, requestcontext.Now(ctx))
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	if err := s.nodes.Create(ctx, node); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store node")
	}

	if err := s.record(ctx, auditchain.ActionNodeRegistered, requestcontext.ActorID(ctx), map[string]any{
		"node_id":     node.ID,
		"node_type":   string(node.Type),
		"region":      string(node.Region),
		"operator_id": node.OperatorID,
	}); err != nil {
		// The credential was never handed out, so an unaudited node must not remain.
		if delErr := s.nodes.Delete(ctx, node.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to remove unaudited node", "node_id", node.ID, "error", delErr)
		}
		return nil, "", err
	}
	s.metrics.IncrementNodeRegistered(string(node.Type))
	return node, plain, nil
}

// Get returns a node by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Node, error) {
	n, err := s.nodes.FindByID(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err, "failed to load node")
	}
	return n, nil
}

// List returns the nodes matching filter.
func (s *Service) List(ctx context.Context, filter models.Filter) ([]*models.Node, error) {
	nodes, err := s.nodes.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list nodes")
	}
	return nodes, nil
}

// Activate moves a pending node to active and links it to its region.
func (s *Service) Activate(ctx context.Context, id string) (*models.Node, error) {
	now := requestcontext.Now(ctx)
	node, err := s.mutate(ctx, id, func(n *models.Node) error {
		return n.ApplyActivate(now)
	}, nil)
	if err != nil {
		return nil, err
	}
	return s.afterActivation(ctx, node, requestcontext.ActorID(ctx))
}

// HeartbeatResult reports the effect of a heartbeat.
type HeartbeatResult struct {
	Node            *models.Node
	Activated       bool
	SLACompliant    bool
	NextHeartbeatMs int
}

// Heartbeat records node health and auto-activates a pending node.
func (s *Service) Heartbeat(ctx context.Context, id string, m models.HeartbeatMetrics) (*HeartbeatResult, error) {
	now := requestcontext.Now(ctx)
	var activated bool
	node, err := s.mutate(ctx, id, func(n *models.Node) error {
		var err error
		activated, err = n.ApplyHeartbeat(m, now)
		return err
	}, nil)
	if err != nil {
		return nil, err
	}

	result := &HeartbeatResult{
		Node:            node,
		Activated:       activated,
		SLACompliant:    node.SLACompliant(),
		NextHeartbeatMs: NextHeartbeatMs,
	}
	s.metrics.IncrementHeartbeat(result.SLACompliant, string(node.Type))
	if activated {
		if result.Node, err = s.afterActivation(ctx, node, requestcontext.SystemActor); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// afterActivation links a freshly activated node to every active node in its region
// and records the activation.
func (s *Service) afterActivation(ctx context.Context, node *models.Node, actor string) (*models.Node, error) {
	s.metrics.IncrementTransition(string(models.StatusActive))
	linked := s.connectRegion(ctx, node)
	if err := s.record(ctx, auditchain.ActionNodeActivated, actor, map[string]any{
		"node_id":      node.ID,
		"region":       string(node.Region),
		"peers_linked": linked,
	}); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *Service) connectRegion(ctx context.Context, node *models.Node) []string {
	candidates, err := s.nodes.List(ctx, models.Filter{Region: node.Region, Status: models.StatusActive})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list region peers", "node_id", node.ID, "error", err)
		return nil
	}
	linked := []string{}
	for _, c := range candidates {
		if c.ID == node.ID {
			continue
		}
		if err := s.Link(ctx, node.ID, c.ID); err != nil {
			// A candidate may have left active since the listing.
			s.logger.WarnContext(ctx, "auto peer link skipped", "node_id", node.ID, "peer_id", c.ID, "error", err)
			continue
		}
		linked = append(linked, c.ID)
	}
	return linked
}

// Suspend moves an active node to suspended and drops its peer links.
func (s *Service) Suspend(ctx context.Context, id, reason string) (*models.Node, error) {
	now := requestcontext.Now(ctx)
	node, err := s.mutate(ctx, id, func(n *models.Node) error {
		return n.ApplySuspend(reason, now)
	}, s.unlinkAll)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementTransition(string(models.StatusSuspended))
	if err := s.record(ctx, auditchain.ActionNodeSuspended, requestcontext.ActorID(ctx), map[string]any{
		"node_id": node.ID,
		"reason":  reason,
	}); err != nil {
		return nil, err
	}
	return node, nil
}

// Reactivate returns a suspended node to active. Peer links are not restored.
func (s *Service) Reactivate(ctx context.Context, id string) (*models.Node, error) {
	now := requestcontext.Now(ctx)
	node, err := s.mutate(ctx, id, func(n *models.Node) error {
		return n.ApplyReactivate(now)
	}, nil)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementTransition(string(models.StatusActive))
	if err := s.record(ctx, auditchain.ActionNodeReactivated, requestcontext.ActorID(ctx), map[string]any{
		"node_id": node.ID,
	}); err != nil {
		return nil, err
	}
	return node, nil
}

// Decommission retires a node permanently and drops its peer links.
func (s *Service) Decommission(ctx context.Context, id, reason string) (*models.Node, error) {
	now := requestcontext.Now(ctx)
	node, err := s.mutate(ctx, id, func(n *models.Node) error {
		return n.ApplyDecommission(reason, now)
	}, s.unlinkAll)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementTransition(string(models.StatusDecommissioned))
	if err := s.record(ctx, auditchain.ActionNodeDecommissioned, requestcontext.ActorID(ctx), map[string]any{
		"node_id": node.ID,
		"reason":  reason,
	}); err != nil {
		return nil, err
	}
	return node, nil
}

// VerifyCredential checks a node's credential against the stored digest.
func (s *Service) VerifyCredential(ctx context.Context, id, plain string) error {
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return credential.Verify(plain, n.CredentialHash)
}

// mutate loads, changes and swaps one node under its lock. afterCommit runs while
// the lock is still held.
func (s *Service) mutate(ctx context.Context, id string, fn func(*models.Node) error, afterCommit func(context.Context, *models.Node) error) (*models.Node, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	n, err := s.nodes.FindByID(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err, "failed to load node")
	}
	if err := fn(n); err != nil {
		return nil, err
	}
	if err := s.nodes.CompareAndSwap(ctx, n); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementLostUpdate()
		}
		return nil, translateStoreErr(err, "failed to save node")
	}
	if afterCommit != nil {
		if err := afterCommit(ctx, n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (s *Service) unlinkAll(ctx context.Context, n *models.Node) error {
	if _, err := s.peers.DisconnectAll(ctx, n.ID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove peer links")
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, actor string, details map[string]any) error {
	s.logAudit(ctx, action, "actor", actor, "details", details)
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Record(ctx, action, actor, details); err != nil {
		if dErrors.HasCode(err, dErrors.CodeTamperDetected) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, event string, attrs ...any) {
	if s.logger == nil {
		return
	}
	args := append(attrs, "event", event, "log_type", "audit", "request_id", requestcontext.RequestID(ctx))
	s.logger.InfoContext(ctx, event, args...)
}

func translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "node not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "node was modified concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
