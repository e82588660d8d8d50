package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/httputil"
)

const (
	defaultSuspendReason      = "Constitutional action"
	defaultDecommissionReason = "Decommissioned by governance"
	maxReasonLength           = 500
)

const maxOptionalBodyBytes = 1 << 16

// decodeOptional is DecodeAndPrepare for routes whose body may be absent. An empty
// body decodes to the zero value, which is still validated.
func decodeOptional[T any, PT interface {
	*T
	httputil.Validatable
}](w http.ResponseWriter, r *http.Request) (*T, error) {
	var req T
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOptionalBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body")
	}
	if err := PT(&req).Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// RegisterNodeRequest admits a node. The operator defaults to the caller.
type RegisterNodeRequest struct {
	OperatorID string `json:"operator_id"`
	NodeType   string `json:"node_type"`
	Region     string `json:"region"`
	Endpoint   string `json:"endpoint"`
	Name       string `json:"name"`
}

// Validate trims input. Type, region and endpoint rules live in the registry so that
// every caller gets the same error codes.
func (r *RegisterNodeRequest) Validate() error {
	r.OperatorID = strings.TrimSpace(r.OperatorID)
	r.NodeType = strings.TrimSpace(r.NodeType)
	r.Region = strings.TrimSpace(r.Region)
	r.Endpoint = strings.TrimSpace(r.Endpoint)
	r.Name = strings.TrimSpace(r.Name)
	if len(r.Name) > 120 {
		return dErrors.New(dErrors.CodeValidation, "name must be at most 120 characters")
	}
	return nil
}

// HeartbeatRequest carries self-reported health. Both fields are optional.
type HeartbeatRequest struct {
	UptimePct  float64 `json:"uptime_pct"`
	ResponseMs float64 `json:"response_ms"`
}

func (r *HeartbeatRequest) Validate() error {
	if r.UptimePct < 0 || r.UptimePct > 100 {
		return dErrors.New(dErrors.CodeValidation, "uptime_pct must be between 0 and 100")
	}
	if r.ResponseMs < 0 {
		return dErrors.New(dErrors.CodeValidation, "response_ms must not be negative")
	}
	return nil
}

// ReasonRequest is the body of suspend and decommission.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

func (r *ReasonRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > maxReasonLength {
		return dErrors.Newf(dErrors.CodeValidation, "reason must be at most %d characters", maxReasonLength)
	}
	return nil
}

// ConnectPeerRequest links the path node to PeerID.
type ConnectPeerRequest struct {
	PeerID string `json:"peer_id"`
}

func (r *ConnectPeerRequest) Validate() error {
	r.PeerID = strings.TrimSpace(r.PeerID)
	if r.PeerID == "" {
		return dErrors.New(dErrors.CodeValidation, "peer_id is required")
	}
	return nil
}

// ConsensusRequest asks for a verification round. ProductID is accepted as an
// alias of Subject for QR verification callers.
type ConsensusRequest struct {
	Subject          string `json:"subject"`
	ProductID        string `json:"product_id"`
	VerificationType string `json:"verification_type"`
}

func (r *ConsensusRequest) Validate() error {
	r.Subject = strings.TrimSpace(r.Subject)
	if r.Subject == "" {
		r.Subject = strings.TrimSpace(r.ProductID)
	}
	if r.Subject == "" {
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	r.VerificationType = strings.TrimSpace(r.VerificationType)
	return nil
}

// CollusionCheckRequest names two approvers known to the identity directory.
type CollusionCheckRequest struct {
	ApproverA string `json:"approver_a"`
	ApproverB string `json:"approver_b"`
}

func (r *CollusionCheckRequest) Validate() error {
	r.ApproverA = strings.TrimSpace(r.ApproverA)
	r.ApproverB = strings.TrimSpace(r.ApproverB)
	if r.ApproverA == "" || r.ApproverB == "" {
		return dErrors.New(dErrors.CodeValidation, "approver_a and approver_b are required")
	}
	return nil
}
