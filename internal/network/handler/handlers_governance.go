package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustnet/internal/collusion"
	"trustnet/internal/constitution"
	"trustnet/internal/network/consensus"
	"trustnet/internal/network/models"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/httputil"
	"trustnet/pkg/platform/sentinel"
	"trustnet/pkg/requestcontext"
)

func (h *Handler) handleRunConsensus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ConsensusRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, r, ActionConsensus, gateFull); err != nil {
		h.writeServiceError(ctx, w, "consensus round refused", err)
		return
	}
	round, err := h.Consensus.Run(ctx, consensus.RoundRequest{
		Subject:          req.Subject,
		VerificationType: req.VerificationType,
		Initiator:        requestcontext.ActorID(ctx),
	})
	if err != nil {
		h.writeServiceError(ctx, w, "consensus round failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, round)
}

func (h *Handler) handleConsensusHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryLimit(r, consensus.DefaultHistoryLimit, consensus.MaxHistoryLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rounds, err := h.Consensus.History(ctx, limit)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to load consensus history", err)
		return
	}
	stats, err := h.Consensus.Stats(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to load consensus stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ConsensusHistoryResponse{Rounds: rounds, Count: len(rounds), Stats: stats})
}

func (h *Handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, &ConfigResponse{
		Consensus:           h.Consensus.Params(),
		NodeTypes:           models.NodeTypes(),
		Regions:             models.Regions(),
		ConstitutionVersion: h.Constitution.Version(),
		Separations:         h.Constitution.Separations(),
	})
}

func (h *Handler) handleActions(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, &ActionsResponse{
		Version: h.Constitution.Version(),
		Actions: h.Constitution.Actions(),
	})
}

func (h *Handler) handleRolePowers(w http.ResponseWriter, r *http.Request) {
	role := constitution.Role(chi.URLParam(r, "role"))
	if !constitution.IsKnownRole(role) {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "unknown role %q", role))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.Constitution.RolePowers(role))
}

func (h *Handler) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryLimit(r, defaultAuditLimit, maxAuditLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.Audit.List(ctx, limit)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list audit entries", err)
		return
	}
	head, seq, err := h.Audit.Head(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to read audit head", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &AuditEntriesResponse{
		Entries:  entries,
		Count:    len(entries),
		HeadHash: head,
		HeadSeq:  seq,
	})
}

// handleAuditVerify walks the whole chain. A broken chain is reported in the body
// with 200; the verifier has already halted mutations by the time this returns.
func (h *Handler) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.Audit.Verify(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to verify audit chain", err)
		return
	}
	halted, _ := h.Audit.Halted()
	httputil.WriteJSON(w, http.StatusOK, &AuditVerifyResponse{
		Verification: v,
		Halted:       halted,
		VerifiedAt:   time.Now().UTC(),
	})
}

// handleCollusionCheck evaluates two directory principals without recording an
// approval.
func (h *Handler) handleCollusionCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CollusionCheckRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if h.Directory == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "identity directory is not configured"))
		return
	}
	approvers := make([]collusion.Approver, 0, 2)
	for _, id := range []string{req.ApproverA, req.ApproverB} {
		p, err := h.Directory.Lookup(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "approver %s not found", id))
				return
			}
			h.writeServiceError(ctx, w, "failed to resolve approver", dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve approver"))
			return
		}
		approvers = append(approvers, p.Approver())
	}
	httputil.WriteJSON(w, http.StatusOK, h.collusion.Validate(approvers[0], approvers[1]))
}
