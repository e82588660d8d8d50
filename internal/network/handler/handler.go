// Package handler is the HTTP gateway of the validator network. Every mutating
// route passes the constitutional gate, and every accepted mutation reaches the
// audit chain before the response is written.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"trustnet/internal/auditchain"
	"trustnet/internal/collusion"
	"trustnet/internal/constitution"
	"trustnet/internal/identity"
	jwttoken "trustnet/internal/jwt_token"
	"trustnet/internal/network/consensus"
	"trustnet/internal/network/discovery"
	"trustnet/internal/network/models"
	"trustnet/internal/network/registry"
	"trustnet/internal/platform/middleware"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/httputil"
	"trustnet/pkg/requestcontext"
)

// Gate actions guarding the mutating routes.
const (
	ActionAdmit        = "network.validator.admit"
	ActionSuspend      = "network.validator.suspend"
	ActionReinstate    = "network.validator.reinstate"
	ActionDecommission = "network.validator.decommission"
	ActionPeerConnect  = "network.peer.connect"
	ActionConsensus    = "network.consensus.view"
)

type Registry interface {
	Register(ctx context.Context, req registry.RegisterRequest) (*models.Node, string, error)
	Get(ctx context.Context, id string) (*models.Node, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Node, error)
	Activate(ctx context.Context, id string) (*models.Node, error)
	Heartbeat(ctx context.Context, id string, m models.HeartbeatMetrics) (*registry.HeartbeatResult, error)
	Suspend(ctx context.Context, id, reason string) (*models.Node, error)
	Reactivate(ctx context.Context, id string) (*models.Node, error)
	Decommission(ctx context.Context, id, reason string) (*models.Node, error)
	VerifyCredential(ctx context.Context, id, plain string) error
	Topology(ctx context.Context) (*models.Topology, error)
	Health(ctx context.Context, rounds registry.RoundStatsSource) (*models.NetworkHealth, error)
}

type Discovery interface {
	DiscoverPeers(ctx context.Context, id string) ([]discovery.Candidate, error)
	ConnectPeer(ctx context.Context, a, b string) (*discovery.ConnectResult, error)
	Peers(ctx context.Context, id string) ([]*models.Node, error)
}

type Consensus interface {
	Run(ctx context.Context, req consensus.RoundRequest) (*models.Round, error)
	History(ctx context.Context, limit int) ([]*models.Round, error)
	Stats(ctx context.Context) (models.RoundStats, error)
	Params() consensus.Params
}

type Constitution interface {
	Enforce(role constitution.Role, action string) constitution.Decision
	RolePowers(role constitution.Role) constitution.RolePowers
	Actions() []constitution.Power
	Version() string
	Separations() []constitution.Separation
}

type AuditChain interface {
	Record(ctx context.Context, action, actor string, details map[string]any) error
	List(ctx context.Context, limit int) ([]*auditchain.Entry, error)
	Verify(ctx context.Context) (auditchain.Verification, error)
	Head(ctx context.Context) (string, int64, error)
	Halted() (bool, string)
}

type Directory interface {
	Lookup(ctx context.Context, id string) (identity.Principal, error)
}

type ApprovalValidator interface {
	ValidateApprovalToken(tokenString, action string) (*jwttoken.ApprovalClaims, error)
}

// Services are the collaborators the gateway fronts.
type Services struct {
	Registry     Registry
	Discovery    Discovery
	Consensus    Consensus
	Constitution Constitution
	Audit        AuditChain
	Directory    Directory
	Approvals    ApprovalValidator
	Auth         middleware.CallerValidator
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Handler serves the /api/network routes.
type Handler struct {
	Services
	collusion       *collusion.Validator
	velocity        *collusion.VelocityLimiter
	logger          *slog.Logger
	strictApprovals bool
	requireNodeKey  bool
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithStrictApprovals refuses second approvers supplied through plain headers.
func WithStrictApprovals(strict bool) Option {
	return func(h *Handler) {
		h.strictApprovals = strict
	}
}

// WithRequireNodeKey makes X-Node-Key mandatory on heartbeats.
func WithRequireNodeKey(required bool) Option {
	return func(h *Handler) {
		h.requireNodeKey = required
	}
}

func WithCollusionValidator(v *collusion.Validator) Option {
	return func(h *Handler) {
		h.collusion = v
	}
}

func WithVelocityLimiter(l *collusion.VelocityLimiter) Option {
	return func(h *Handler) {
		h.velocity = l
	}
}

func New(services Services, opts ...Option) *Handler {
	h := &Handler{
		Services:  services,
		collusion: collusion.New(),
		velocity:  collusion.NewVelocityLimiter(collusion.DefaultVelocityLimit, collusion.DefaultVelocityWindow),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the network routes on r. Heartbeats authenticate with the node
// credential; everything else needs a bearer token.
func (h *Handler) Register(r chi.Router) {
	r.With(h.requireWritableChain).Post("/nodes/{id}/heartbeat", h.handleHeartbeat)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.Auth, h.logger))

		r.Get("/topology", h.handleTopology)
		r.Get("/health", h.handleHealth)
		r.Get("/config", h.handleConfig)
		r.Get("/nodes", h.handleListNodes)
		r.Get("/nodes/{id}", h.handleGetNode)
		r.Get("/nodes/{id}/peers", h.handlePeers)
		r.Get("/nodes/{id}/discover", h.handleDiscover)
		r.Get("/consensus/history", h.handleConsensusHistory)
		r.Get("/constitution/actions", h.handleActions)
		r.Get("/constitution/roles/{role}", h.handleRolePowers)
		r.Get("/audit/entries", h.handleAuditEntries)
		r.Get("/audit/verify", h.handleAuditVerify)
		r.Post("/collusion/check", h.handleCollusionCheck)

		r.Group(func(r chi.Router) {
			r.Use(h.requireWritableChain)
			r.Post("/nodes", h.handleRegisterNode)
			r.Post("/nodes/{id}/activate", h.handleActivate)
			r.Post("/nodes/{id}/suspend", h.handleSuspend)
			r.Post("/nodes/{id}/reactivate", h.handleReactivate)
			r.Post("/nodes/{id}/decommission", h.handleDecommission)
			r.Post("/nodes/{id}/peers", h.handleConnectPeer)
			r.Post("/consensus", h.handleRunConsensus)
		})
	})
}

// requireWritableChain refuses mutations once tampering has halted the chain.
func (h *Handler) requireWritableChain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if halted, brokenAt := h.Audit.Halted(); halted {
			httputil.WriteError(w, dErrors.New(dErrors.CodeTamperDetected,
				"audit chain integrity failure; mutations are suspended").WithDetail("broken_at_hash", brokenAt))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) recordAudit(ctx context.Context, action, actor string, details map[string]any) error {
	if err := h.Audit.Record(ctx, action, actor, details); err != nil {
		if dErrors.HasCode(err, dErrors.CodeTamperDetected) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}
	return nil
}

// writeServiceError logs and writes err. Client errors log at warn, the rest at error.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	attrs := []any{"error", err, "request_id", requestcontext.RequestID(ctx)}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func queryLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer")
	}
	if n == 0 {
		return def, nil
	}
	return min(n, ceiling), nil
}
