// Package auditchain is the tamper-evident, append-only log of governance actions.
//
// Each entry's hash binds the previous entry's hash, the action, the actor, the
// timestamp and the canonical JSON of the details. Altering any stored field of any
// entry breaks recomputation at that entry.
package auditchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const genesisSeed = "TRUSTNET_AUDIT_GENESIS"

// Actions recorded on the chain.
const (
	ActionGateDecision        = "GATE_DECISION"
	ActionNodeRegistered      = "NODE_REGISTERED"
	ActionNodeActivated       = "NODE_ACTIVATED"
	ActionNodeSuspended       = "NODE_SUSPENDED"
	ActionNodeReactivated     = "NODE_REACTIVATED"
	ActionNodeDecommissioned  = "NODE_DECOMMISSIONED"
	ActionNodeAutoSuspended   = "NODE_AUTO_SUSPENDED"
	ActionPeerConnected       = "PEER_CONNECTED"
	ActionConsensusRound      = "CONSENSUS_ROUND"
	ActionChainTamperDetected = "CHAIN_TAMPER_DETECTED"
)

// Entry is one link of the chain.
type Entry struct {
	Seq          int64           `json:"seq"`
	Hash         string          `json:"hash"`
	PreviousHash string          `json:"previous_hash"`
	Action       string          `json:"action"`
	Actor        string          `json:"actor"`
	Timestamp    time.Time       `json:"timestamp"`
	Details      json.RawMessage `json:"details"`
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Details = append(json.RawMessage(nil), e.Details...)
	return &c
}

// GenesisHash is the previous-hash of the first entry.
func GenesisHash() string {
	sum := sha256.Sum256([]byte(genesisSeed))
	return hex.EncodeToString(sum[:])
}

// CanonicalDetails serialises details with sorted map keys. Nil becomes {}.
func CanonicalDetails(details any) (json.RawMessage, error) {
	if details == nil {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode audit details: %w", err)
	}
	// Round-trip through a generic value so struct field order cannot leak into the digest.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalise audit details: %w", err)
	}
	return json.Marshal(generic)
}

// ComputeHash returns sha256(prev|action|actor|timestamp|details) as hex.
func ComputeHash(prev, action, actor string, ts time.Time, details json.RawMessage) string {
	payload := strings.Join([]string{
		prev,
		action,
		actor,
		ts.UTC().Format(time.RFC3339Nano),
		string(details),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Verification is the result of replaying the chain.
type Verification struct {
	ChainValid   bool   `json:"chain_valid"`
	BrokenAtHash string `json:"broken_at_hash,omitempty"`
	BrokenAtSeq  int64  `json:"broken_at_seq,omitempty"`
	Checked      int    `json:"entries_checked"`
	HeadHash     string `json:"head_hash"`
}

// VerifyEntries replays entries in order from the genesis hash and stops at the first
// entry whose position, previous_hash or recomputed hash does not match. Sequence
// numbers start at 1 and have no gaps.
func VerifyEntries(entries []*Entry) Verification {
	prev := GenesisHash()
	for i, e := range entries {
		seq := int64(i + 1)
		if e.Seq != seq || e.PreviousHash != prev || ComputeHash(e.PreviousHash, e.Action, e.Actor, e.Timestamp, e.Details) != e.Hash {
			return Verification{
				ChainValid:   false,
				BrokenAtHash: e.Hash,
				BrokenAtSeq:  seq,
				Checked:      i + 1,
				HeadHash:     prev,
			}
		}
		prev = e.Hash
	}
	return Verification{ChainValid: true, Checked: len(entries), HeadHash: prev}
}
