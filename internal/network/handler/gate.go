package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trustnet/internal/auditchain"
	"trustnet/internal/collusion"
	"trustnet/internal/constitution"
	"trustnet/internal/identity"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/sentinel"
	"trustnet/pkg/requestcontext"
)

// Second-approver headers. The token form is preferred; the header pair is the
// legacy form and is refused in strict mode.
const (
	HeaderApprovalToken      = "X-Approval-Token"
	HeaderSecondApprover     = "X-Second-Approver"
	HeaderSecondApproverRole = "X-Second-Approver-Role"
	HeaderNodeKey            = "X-Node-Key"
)

const (
	approvalViaToken  = "approval_token"
	approvalViaHeader = "header"
)

// gateMode says how much of the gate a route runs.
type gateMode int

const (
	// gateFull also resolves and checks a second approver for conditional actions.
	gateFull gateMode = iota
	// gateRoleOnly checks the role against the power table and ignores requirements.
	gateRoleOnly
)

type secondApprover struct {
	ID       string
	Role     string
	EntityID string
	Via      string
}

// authorize evaluates the constitutional gate for action and appends the
// GATE_DECISION entry, whatever the verdict. A nil error means the caller may proceed.
func (h *Handler) authorize(ctx context.Context, r *http.Request, action string, mode gateMode) (*Approval, error) {
	caller := requestcontext.CallerFrom(ctx)
	decision := h.Constitution.Enforce(constitution.Role(caller.Role), action)

	var (
		approval *Approval
		gateErr  error
	)
	switch {
	case !decision.Allowed:
		gateErr = blockError(decision)
	case decision.Conditional && mode == gateFull:
		approval, gateErr = h.checkApproval(ctx, r, caller, decision)
	}

	details := map[string]any{
		"action":      action,
		"role":        caller.Role,
		"allowed":     gateErr == nil,
		"conditional": decision.Conditional && mode == gateFull,
		"code":        decision.Code,
		"reason":      decision.Reason,
	}
	if gateErr != nil {
		details["code"] = string(dErrors.CodeOf(gateErr))
		details["reason"] = gateErrorMessage(gateErr)
	}
	if decision.Separation != nil {
		details["separation"] = decision.Separation.ID
	}
	if approval != nil {
		details["second_approver"] = approval.Second
		details["second_approver_role"] = approval.SecondRole
		details["approval_method"] = approval.Method
	}
	if err := h.recordAudit(ctx, auditchain.ActionGateDecision, caller.ID, details); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "constitutional gate evaluated",
		"event", auditchain.ActionGateDecision,
		"log_type", "audit",
		"action", action,
		"role", caller.Role,
		"actor", caller.ID,
		"allowed", gateErr == nil,
		"request_id", requestcontext.RequestID(ctx),
	)
	if gateErr != nil {
		return nil, gateErr
	}
	return approval, nil
}

// blockError turns a denied decision into the CONSTITUTIONAL_BLOCK response.
func blockError(d constitution.Decision) error {
	err := dErrors.New(dErrors.CodeConstitutionalBlock, d.Reason).
		WithDetail("action", d.Action).
		WithDetail("role", string(d.Role)).
		WithDetail("decision", d.Code)
	if d.Separation != nil {
		err = err.WithDetail("separation", d.Separation.ID)
	}
	if d.Immutable {
		err = err.WithDetail("immutable", "true")
	}
	return err
}

// checkApproval enforces the second-approver rules in order: presence and validity,
// self-approval, role, independence, velocity.
func (h *Handler) checkApproval(ctx context.Context, r *http.Request, caller requestcontext.Caller, d constitution.Decision) (*Approval, error) {
	req := d.Requirement
	if !req.SatisfiableBySecondApprover() {
		return nil, dErrors.Newf(dErrors.CodeConstitutionalBlock,
			"action %q requires %s and cannot be approved in a single request", d.Action, req.Type).
			WithDetail("action", d.Action).
			WithDetail("requirement", string(req.Type))
	}
	requiredRoles := joinRoles(req.Roles)

	second, apErr := h.resolveApprover(r, d.Action)
	if apErr != nil {
		return nil, apErr.WithDetail("required_roles", requiredRoles)
	}
	if second.ID == caller.ID {
		return nil, dErrors.New(dErrors.CodeSelfApprovalReject, "self-approval is not allowed")
	}
	if !req.AcceptsRole(constitution.Role(second.Role)) {
		return nil, dErrors.Newf(dErrors.CodeRoleMismatch,
			"second approver role %q not in required: %s", second.Role, requiredRoles).
			WithDetail("required_roles", requiredRoles)
	}

	principal, known, err := h.lookupPrincipal(ctx, second.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case known && principal.Role != second.Role:
		return nil, dErrors.Newf(dErrors.CodeRoleMismatch,
			"second approver %s holds role %q, not %q", second.ID, principal.Role, second.Role)
	case !known && second.Via == approvalViaHeader:
		return nil, dErrors.Newf(dErrors.CodeRoleMismatch,
			"second approver %s is unknown to the identity directory", second.ID)
	}

	first, err := h.approverFor(ctx, caller)
	if err != nil {
		return nil, err
	}
	other := collusion.Approver{ID: second.ID, Role: second.Role, EntityID: second.EntityID}
	if known {
		other = principal.Approver()
	}
	if result := h.collusion.Validate(first, other); result.Blocked {
		err := dErrors.New(dErrors.CodeCollusionDetected, "approvers are not independent").
			WithDetail("independence_score", strconv.Itoa(result.Score))
		if len(result.Issues) > 0 {
			err = err.WithDetail("issue", result.Issues[0].Detail)
		}
		return nil, err
	}

	if v := h.velocity.Allow(caller.ID, second.ID, requestcontext.Now(ctx)); !v.Allowed {
		return nil, dErrors.Newf(dErrors.CodeApprovalRateLimited,
			"approver pair exceeded %d approvals in the window", v.Limit).
			WithDetail("retry_at", v.RetryAt.UTC().Format(time.RFC3339))
	}

	return &Approval{
		First:      caller.ID,
		FirstRole:  caller.Role,
		Second:     second.ID,
		SecondRole: second.Role,
		Method:     second.Via,
	}, nil
}

func (h *Handler) resolveApprover(r *http.Request, action string) (*secondApprover, *dErrors.Error) {
	if token := strings.TrimSpace(r.Header.Get(HeaderApprovalToken)); token != "" {
		claims, err := h.Approvals.ValidateApprovalToken(token, action)
		if err != nil {
			if de, ok := dErrors.As(err); ok {
				return nil, de
			}
			return nil, dErrors.New(dErrors.CodeMultiPartyRequired, "invalid approval token")
		}
		return &secondApprover{ID: claims.ApproverID(), Role: claims.Role, EntityID: claims.EntityID, Via: approvalViaToken}, nil
	}

	id := strings.TrimSpace(r.Header.Get(HeaderSecondApprover))
	role := strings.TrimSpace(r.Header.Get(HeaderSecondApproverRole))
	if id == "" || role == "" {
		return nil, dErrors.Newf(dErrors.CodeMultiPartyRequired,
			"multi-party authorization required: provide %s", HeaderApprovalToken)
	}
	if h.strictApprovals {
		return nil, dErrors.Newf(dErrors.CodeMultiPartyRequired,
			"header approvals are disabled; provide %s", HeaderApprovalToken)
	}
	return &secondApprover{ID: id, Role: role, Via: approvalViaHeader}, nil
}

func (h *Handler) lookupPrincipal(ctx context.Context, id string) (identity.Principal, bool, error) {
	if h.Directory == nil {
		return identity.Principal{}, false, nil
	}
	p, err := h.Directory.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return identity.Principal{}, false, nil
		}
		return identity.Principal{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve approver")
	}
	return p, true, nil
}

// approverFor builds the caller's side of the independence check, preferring the
// directory record over token claims.
func (h *Handler) approverFor(ctx context.Context, caller requestcontext.Caller) (collusion.Approver, error) {
	p, known, err := h.lookupPrincipal(ctx, caller.ID)
	if err != nil {
		return collusion.Approver{}, err
	}
	if known {
		return p.Approver(), nil
	}
	return collusion.Approver{ID: caller.ID, Role: caller.Role, EntityID: caller.EntityID}, nil
}

func gateErrorMessage(err error) string {
	if de, ok := dErrors.As(err); ok {
		return de.Message
	}
	return err.Error()
}

func joinRoles(roles []constitution.Role) string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return strings.Join(out, ", ")
}
