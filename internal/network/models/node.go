package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	dErrors "trustnet/pkg/domain-errors"
)

// NodeStatus is a node's lifecycle state.
type NodeStatus string

const (
	StatusPending        NodeStatus = "pending"
	StatusActive         NodeStatus = "active"
	StatusSuspended      NodeStatus = "suspended"
	StatusDecommissioned NodeStatus = "decommissioned"
)

// IsValid reports whether s is a known status.
func (s NodeStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusDecommissioned:
		return true
	}
	return false
}

const (
	// MaxTrustScore is both the starting and the ceiling trust score.
	MaxTrustScore = 100.0

	// ReasonConsecutiveFailures is recorded when consensus suspends a node.
	ReasonConsecutiveFailures = "Consecutive consensus failures"
)

// Health is the rolling health snapshot of a node.
type Health struct {
	LastHeartbeat       *time.Time `json:"last_heartbeat,omitempty"`
	UptimePct           float64    `json:"uptime_pct"`
	AvgResponseMs       float64    `json:"avg_response_ms"`
	TotalRounds         int        `json:"total_rounds"`
	SuccessfulRounds    int        `json:"successful_rounds"`
	FailedRounds        int        `json:"failed_rounds"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// Node is a participant in the verification network.
//
// Invariants:
//   - Status follows pending -> active <-> suspended, and active|suspended -> decommissioned.
//   - Decommissioned is terminal.
//   - TrustScore stays within [0, MaxTrustScore].
//   - Only CredentialHash is stored; the plaintext credential is never persisted.
type Node struct {
	ID                 string     `json:"node_id"`
	OperatorID         string     `json:"operator_id"`
	Name               string     `json:"name"`
	Type               NodeType   `json:"node_type"`
	Region             Region     `json:"region"`
	Endpoint           string     `json:"endpoint"`
	Status             NodeStatus `json:"status"`
	TrustScore         float64    `json:"trust_score"`
	Reputation         float64    `json:"reputation"`
	Health             Health     `json:"health"`
	CredentialHash     string     `json:"-"`
	RegisteredAt       time.Time  `json:"registered_at"`
	ActivatedAt        *time.Time `json:"activated_at,omitempty"`
	SuspendedAt        *time.Time `json:"suspended_at,omitempty"`
	SuspensionReason   string     `json:"suspension_reason,omitempty"`
	DecommissionedAt   *time.Time `json:"decommissioned_at,omitempty"`
	DecommissionReason string     `json:"decommission_reason,omitempty"`
	Version            int64      `json:"version"`
}

// NewNodeID returns a node id of the form NODE-XXXXXXXXXXXX.
func NewNodeID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate node id: %w", err)
	}
	return "NODE-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// NewNode builds a pending node. Type and region must already be validated.
func NewNode(id, operatorID, name string, nodeType NodeType, region Region, endpoint, credentialHash string, now time.Time) (*Node, error) {
	spec, ok := LookupType(nodeType)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown node type %q", nodeType)
	}
	if _, ok := LookupRegion(region); !ok {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown region %q", region)
	}
	if id == "" || endpoint == "" || credentialHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "node id, endpoint and credential are required")
	}
	if name == "" {
		name = fmt.Sprintf("%s (%s)", spec.Name, region)
	}
	return &Node{
		ID:             id,
		OperatorID:     operatorID,
		Name:           name,
		Type:           nodeType,
		Region:         region,
		Endpoint:       endpoint,
		Status:         StatusPending,
		TrustScore:     MaxTrustScore,
		Reputation:     spec.MinStake,
		Health:         Health{UptimePct: MaxTrustScore},
		CredentialHash: credentialHash,
		RegisteredAt:   now,
	}, nil
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Health.LastHeartbeat = cloneTime(n.Health.LastHeartbeat)
	c.ActivatedAt = cloneTime(n.ActivatedAt)
	c.SuspendedAt = cloneTime(n.SuspendedAt)
	c.DecommissionedAt = cloneTime(n.DecommissionedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Spec returns the node's type spec.
func (n *Node) Spec() TypeSpec {
	spec, _ := LookupType(n.Type)
	return spec
}

// IsActive reports whether the node takes part in consensus and peering.
func (n *Node) IsActive() bool {
	return n.Status == StatusActive
}

func (n *Node) transitionError(op string) error {
	return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot %s node in %s state", op, n.Status)
}

// CanActivate enforces pending -> active.
func (n *Node) CanActivate() error {
	if n.Status != StatusPending {
		return n.transitionError("activate")
	}
	return nil
}

// ApplyActivate moves a pending node to active.
func (n *Node) ApplyActivate(now time.Time) error {
	if err := n.CanActivate(); err != nil {
		return err
	}
	n.Status = StatusActive
	n.ActivatedAt = &now
	n.Health.LastHeartbeat = &now
	return nil
}

// CanSuspend enforces active -> suspended.
func (n *Node) CanSuspend() error {
	if n.Status != StatusActive {
		return n.transitionError("suspend")
	}
	return nil
}

// ApplySuspend moves an active node to suspended.
func (n *Node) ApplySuspend(reason string, now time.Time) error {
	if err := n.CanSuspend(); err != nil {
		return err
	}
	n.Status = StatusSuspended
	n.SuspendedAt = &now
	n.SuspensionReason = reason
	return nil
}

// CanReactivate enforces suspended -> active.
func (n *Node) CanReactivate() error {
	if n.Status != StatusSuspended {
		return n.transitionError("reactivate")
	}
	return nil
}

// ApplyReactivate returns a suspended node to active and clears its failure streak.
func (n *Node) ApplyReactivate(now time.Time) error {
	if err := n.CanReactivate(); err != nil {
		return err
	}
	n.Status = StatusActive
	n.ActivatedAt = &now
	n.SuspendedAt = nil
	n.SuspensionReason = ""
	n.Health.ConsecutiveFailures = 0
	return nil
}

// CanDecommission enforces active|suspended -> decommissioned.
func (n *Node) CanDecommission() error {
	if n.Status != StatusActive && n.Status != StatusSuspended {
		return n.transitionError("decommission")
	}
	return nil
}

// ApplyDecommission retires the node permanently.
func (n *Node) ApplyDecommission(reason string, now time.Time) error {
	if err := n.CanDecommission(); err != nil {
		return err
	}
	n.Status = StatusDecommissioned
	n.DecommissionedAt = &now
	n.DecommissionReason = reason
	return nil
}

// HeartbeatMetrics are the self-reported figures sent with a heartbeat.
// Zero values leave the stored snapshot unchanged.
type HeartbeatMetrics struct {
	UptimePct  float64
	ResponseMs float64
}

// ApplyHeartbeat records the heartbeat. A pending node is activated; the return
// value reports whether that happened. Decommissioned nodes reject heartbeats.
func (n *Node) ApplyHeartbeat(m HeartbeatMetrics, now time.Time) (activated bool, err error) {
	if n.Status == StatusDecommissioned {
		return false, n.transitionError("heartbeat")
	}
	n.Health.LastHeartbeat = &now
	if m.UptimePct > 0 {
		n.Health.UptimePct = math.Min(m.UptimePct, 100)
	}
	if m.ResponseMs > 0 {
		n.Health.AvgResponseMs = m.ResponseMs
	}
	if n.Status == StatusPending {
		if err := n.ApplyActivate(now); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// SLACompliant reports whether the last reported uptime and latency meet the type's SLA.
func (n *Node) SLACompliant() bool {
	sla := n.Spec().SLA
	return n.Health.UptimePct >= sla.UptimePct && n.Health.AvgResponseMs <= float64(sla.MaxResponseMs)
}

// ScoreAdjustment carries the consensus scoring constants.
type ScoreAdjustment struct {
	Reward         float64
	Penalty        float64
	SlashThreshold int
}

// ApplyRoundResult scores a validator's vote against the round outcome.
// It returns true when the node was suspended for repeated failures.
func (n *Node) ApplyRoundResult(matched bool, adj ScoreAdjustment, now time.Time) (suspended bool) {
	n.Health.TotalRounds++
	if matched {
		n.TrustScore = math.Min(MaxTrustScore, n.TrustScore+adj.Reward)
		n.Reputation += adj.Reward
		n.Health.ConsecutiveFailures = 0
		n.Health.SuccessfulRounds++
		return false
	}
	n.TrustScore = math.Max(0, n.TrustScore-adj.Penalty)
	n.Health.ConsecutiveFailures++
	n.Health.FailedRounds++
	if adj.SlashThreshold > 0 && n.Health.ConsecutiveFailures >= adj.SlashThreshold {
		return n.ApplySuspend(ReasonConsecutiveFailures, now) == nil
	}
	return false
}
