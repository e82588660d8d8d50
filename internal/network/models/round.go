package models

import (
	"math"
	"slices"
	"time"
)

// Vote is a validator's decision in a round.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
)

// Outcome is the result of a consensus round.
type Outcome string

const (
	OutcomeVerified Outcome = "VERIFIED"
	OutcomeRejected Outcome = "REJECTED"
)

// Ballot is one validator's participation in a round.
type Ballot struct {
	NodeID     string  `json:"node_id"`
	Name       string  `json:"name"`
	Region     Region  `json:"region"`
	TrustScore float64 `json:"trust_score"`
	Vote       Vote    `json:"vote"`
	LatencyMs  int     `json:"latency_ms"`
}

// Round is the write-once record of one verification decision.
//
// Invariants:
//   - Outcome is VERIFIED iff Approvals >= QuorumNeeded.
//   - Approvals + Rejections == len(Ballots).
type Round struct {
	ID               string     `json:"round_id"`
	Subject          string     `json:"subject"`
	VerificationType Capability `json:"verification_type"`
	Initiator        string     `json:"initiator"`
	Ballots          []Ballot   `json:"validators"`
	QuorumNeeded     int        `json:"quorum_needed"`
	Approvals        int        `json:"approvals"`
	Rejections       int        `json:"rejections"`
	Outcome          Outcome    `json:"outcome"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      time.Time  `json:"completed_at"`
	DurationMs       int64      `json:"duration_ms"`
}

// Clone returns a deep copy.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	c := *r
	c.Ballots = slices.Clone(r.Ballots)
	return &c
}

// ValidatorIDs lists the participating node ids in selection order.
func (r *Round) ValidatorIDs() []string {
	ids := make([]string, len(r.Ballots))
	for i, b := range r.Ballots {
		ids[i] = b.NodeID
	}
	return ids
}

// QuorumFor returns ceil(selected * pct / 100).
func QuorumFor(selected, pct int) int {
	return int(math.Ceil(float64(selected) * float64(pct) / 100))
}

// Tally counts votes and decides the outcome against quorum.
func Tally(ballots []Ballot, quorum int) (approvals, rejections int, outcome Outcome) {
	for _, b := range ballots {
		if b.Vote == VoteApprove {
			approvals++
		} else {
			rejections++
		}
	}
	if approvals >= quorum {
		return approvals, rejections, OutcomeVerified
	}
	return approvals, rejections, OutcomeRejected
}

// RoundStats are the network-wide consensus counters.
type RoundStats struct {
	TotalRounds      int `json:"total_rounds"`
	SuccessfulRounds int `json:"successful_rounds"`
	FailedRounds     int `json:"failed_rounds"`
}

// SuccessRate returns successful/total as a percentage, or 0 with no rounds.
func (s RoundStats) SuccessRate() float64 {
	if s.TotalRounds == 0 {
		return 0
	}
	return math.Round(float64(s.SuccessfulRounds)/float64(s.TotalRounds)*10000) / 100
}
