package handler

import (
	"time"

	"trustnet/internal/auditchain"
	"trustnet/internal/constitution"
	"trustnet/internal/network/consensus"
	"trustnet/internal/network/discovery"
	"trustnet/internal/network/models"
)

// RegisterNodeResponse returns the node and its credential. The credential is shown
// exactly once; only its digest is stored.
type RegisterNodeResponse struct {
	Node       *models.Node `json:"node"`
	Credential string       `json:"credential"`
	ApprovedBy *Approval    `json:"approved_by,omitempty"`
}

// Approval names the two parties to a dual-key or multi-party action.
type Approval struct {
	First      string `json:"first"`
	FirstRole  string `json:"first_role"`
	Second     string `json:"second"`
	SecondRole string `json:"second_role"`
	Method     string `json:"method"`
}

type NodeResponse struct {
	Node       *models.Node `json:"node"`
	ApprovedBy *Approval    `json:"approved_by,omitempty"`
}

type NodeListResponse struct {
	Nodes []*models.Node `json:"nodes"`
	Count int            `json:"count"`
}

type HeartbeatResponse struct {
	NodeID          string            `json:"node_id"`
	Status          models.NodeStatus `json:"status"`
	Activated       bool              `json:"activated"`
	SLACompliant    bool              `json:"sla_compliant"`
	TrustScore      float64           `json:"trust_score"`
	NextHeartbeatMs int               `json:"next_heartbeat_ms"`
}

type PeersResponse struct {
	NodeID string         `json:"node_id"`
	Peers  []*models.Node `json:"peers"`
	Count  int            `json:"count"`
}

type DiscoverResponse struct {
	NodeID     string                `json:"node_id"`
	Candidates []discovery.Candidate `json:"candidates"`
	Count      int                   `json:"count"`
}

type ConsensusHistoryResponse struct {
	Rounds []*models.Round   `json:"rounds"`
	Count  int               `json:"count"`
	Stats  models.RoundStats `json:"stats"`
}

type ConfigResponse struct {
	Consensus           consensus.Params          `json:"consensus"`
	NodeTypes           []models.TypeSpec         `json:"node_types"`
	Regions             []models.RegionSpec       `json:"regions"`
	ConstitutionVersion string                    `json:"constitution_version"`
	Separations         []constitution.Separation `json:"separations"`
}

type ActionsResponse struct {
	Version string               `json:"version"`
	Actions []constitution.Power `json:"actions"`
}

type AuditEntriesResponse struct {
	Entries  []*auditchain.Entry `json:"entries"`
	Count    int                 `json:"count"`
	HeadHash string              `json:"head_hash"`
	HeadSeq  int64               `json:"head_seq"`
}

type AuditVerifyResponse struct {
	auditchain.Verification
	Halted     bool      `json:"halted"`
	VerifiedAt time.Time `json:"verified_at"`
}
