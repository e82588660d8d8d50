package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"trustnet/internal/network/models"
	"trustnet/internal/network/registry"
	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/httputil"
	"trustnet/pkg/requestcontext"
)

func (h *Handler) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterNodeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	approval, err := h.authorize(ctx, r, ActionAdmit, gateFull)
	if err != nil {
		h.writeServiceError(ctx, w, "node registration refused", err)
		return
	}

	operator := req.OperatorID
	if operator == "" {
		operator = requestcontext.ActorID(ctx)
	}
	node, credential, err := h.Registry.Register(ctx, registry.RegisterRequest{
		OperatorID: operator,
		NodeType:   req.NodeType,
		Region:     req.Region,
		Endpoint:   req.Endpoint,
		Name:       req.Name,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "failed to register node", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, &RegisterNodeResponse{
		Node:       node,
		Credential: credential,
		ApprovedBy: approval,
	})
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.authorize(ctx, r, ActionAdmit, gateRoleOnly); err != nil {
		h.writeServiceError(ctx, w, "node activation refused", err)
		return
	}
	node, err := h.Registry.Activate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to activate node", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &NodeResponse{Node: node})
}

// handleHeartbeat is called by nodes, not people. When a node key is presented it
// must match the node's credential.
func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	key := strings.TrimSpace(r.Header.Get(HeaderNodeKey))
	if key == "" && h.requireNodeKey {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeUnauthorized, "%s is required", HeaderNodeKey))
		return
	}
	if key != "" {
		if err := h.Registry.VerifyCredential(ctx, id, key); err != nil {
			h.writeServiceError(ctx, w, "heartbeat credential rejected", err)
			return
		}
	}

	req, err := decodeOptional[HeartbeatRequest](w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid heartbeat", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}

	// Heartbeats carry no caller; anything they trigger is attributed to the system.
	res, err := h.Registry.Heartbeat(ctx, id, models.HeartbeatMetrics{
		UptimePct:  req.UptimePct,
		ResponseMs: req.ResponseMs,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "heartbeat failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &HeartbeatResponse{
		NodeID:          res.Node.ID,
		Status:          res.Node.Status,
		Activated:       res.Activated,
		SLACompliant:    res.SLACompliant,
		TrustScore:      res.Node.TrustScore,
		NextHeartbeatMs: res.NextHeartbeatMs,
	})
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeOptional[ReasonRequest](w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	approval, err := h.authorize(ctx, r, ActionSuspend, gateFull)
	if err != nil {
		h.writeServiceError(ctx, w, "node suspension refused", err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultSuspendReason
	}
	node, err := h.Registry.Suspend(ctx, chi.URLParam(r, "id"), reason)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to suspend node", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &NodeResponse{Node: node, ApprovedBy: approval})
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approval, err := h.authorize(ctx, r, ActionReinstate, gateFull)
	if err != nil {
		h.writeServiceError(ctx, w, "node reactivation refused", err)
		return
	}
	node, err := h.Registry.Reactivate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to reactivate node", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &NodeResponse{Node: node, ApprovedBy: approval})
}

func (h *Handler) handleDecommission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeOptional[ReasonRequest](w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	approval, err := h.authorize(ctx, r, ActionDecommission, gateFull)
	if err != nil {
		h.writeServiceError(ctx, w, "node decommission refused", err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultDecommissionReason
	}
	node, err := h.Registry.Decommission(ctx, chi.URLParam(r, "id"), reason)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to decommission node", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &NodeResponse{Node: node, ApprovedBy: approval})
}

func (h *Handler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := models.Filter{}
	if raw := q.Get("type"); raw != "" {
		t, err := models.ParseNodeType(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Type = t
	}
	if raw := q.Get("region"); raw != "" {
		region, err := models.ParseRegion(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Region = region
	}
	if raw := q.Get("status"); raw != "" {
		status := models.NodeStatus(raw)
		if !status.IsValid() {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeValidation, "unknown status %q", raw))
			return
		}
		filter.Status = status
	}

	nodes, err := h.Registry.List(ctx, filter)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list nodes", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &NodeListResponse{Nodes: nodes, Count: len(nodes)})
}

func (h *Handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	node, err := h.Registry.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to get node", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &NodeResponse{Node: node})
}

func (h *Handler) handlePeers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	peers, err := h.Discovery.Peers(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list peers", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &PeersResponse{NodeID: id, Peers: peers, Count: len(peers)})
}

func (h *Handler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	candidates, err := h.Discovery.DiscoverPeers(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to discover peers", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &DiscoverResponse{NodeID: id, Candidates: candidates, Count: len(candidates)})
}

func (h *Handler) handleConnectPeer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ConnectPeerRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, r, ActionPeerConnect, gateFull); err != nil {
		h.writeServiceError(ctx, w, "peer connection refused", err)
		return
	}
	res, err := h.Discovery.ConnectPeer(ctx, chi.URLParam(r, "id"), req.PeerID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to connect peer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleTopology(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.Registry.Topology(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to build topology", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	health, err := h.Registry.Health(ctx, h.Consensus)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to compute network health", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, health)
}
