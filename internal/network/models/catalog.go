package models

import (
	"slices"

	dErrors "trustnet/pkg/domain-errors"
)

// NodeType classifies a node's role in the verification network.
type NodeType string

const (
	NodeTypeValidator NodeType = "validator"
	NodeTypeRelay     NodeType = "relay"
	NodeTypeArchive   NodeType = "archive"
	NodeTypeObserver  NodeType = "observer"
)

// Capability is a unit of work a node type can perform. Consensus rounds
// select validators by the capability matching the verification type.
type Capability string

const (
	CapQRVerification   Capability = "qr_verification"
	CapCarbonSettlement Capability = "carbon_settlement"
	CapBlockchainSeal   Capability = "blockchain_seal"
	CapRouting          Capability = "routing"
	CapCaching          Capability = "caching"
	CapLoadBalancing    Capability = "load_balancing"
	CapStorage          Capability = "storage"
	CapAuditTrail       Capability = "audit_trail"
	CapComplianceExport Capability = "compliance_export"
	CapMonitoring       Capability = "monitoring"
	CapAnalytics        Capability = "analytics"
)

// SLA is the service level a node type is held to.
type SLA struct {
	UptimePct     float64 `json:"uptime_pct"`
	MaxResponseMs int     `json:"max_response_ms"`
}

// TypeSpec describes the fixed properties of a node type.
type TypeSpec struct {
	Type         NodeType     `json:"type"`
	Name         string       `json:"name"`
	Capabilities []Capability `json:"capabilities"`
	SLA          SLA          `json:"sla"`
	MinStake     float64      `json:"min_stake"`
}

// HasCapability reports whether the type can perform c.
func (t TypeSpec) HasCapability(c Capability) bool {
	return slices.Contains(t.Capabilities, c)
}

// Region is a deployment region.
type Region string

// RegionSpec carries the informational latency target used for peer ranking.
type RegionSpec struct {
	Region          Region `json:"region"`
	Name            string `json:"name"`
	LatencyTargetMs int    `json:"latency_target_ms"`
}

var nodeTypes = []TypeSpec{
	{
		Type:         NodeTypeValidator,
		Name:         "Validator Node",
		Capabilities: []Capability{CapQRVerification, CapCarbonSettlement, CapBlockchainSeal},
		SLA:          SLA{UptimePct: 99.5, MaxResponseMs: 500},
		MinStake:     1000,
	},
	{
		Type:         NodeTypeRelay,
		Name:         "Relay Node",
		Capabilities: []Capability{CapRouting, CapCaching, CapLoadBalancing},
		SLA:          SLA{UptimePct: 99.9, MaxResponseMs: 100},
		MinStake:     500,
	},
	{
		Type:         NodeTypeArchive,
		Name:         "Archive Node",
		Capabilities: []Capability{CapStorage, CapAuditTrail, CapComplianceExport},
		SLA:          SLA{UptimePct: 99.0, MaxResponseMs: 2000},
		MinStake:     2000,
	},
	{
		Type:         NodeTypeObserver,
		Name:         "Observer Node",
		Capabilities: []Capability{CapMonitoring, CapAnalytics},
		SLA:          SLA{UptimePct: 95.0, MaxResponseMs: 5000},
		MinStake:     0,
	},
}

var regions = []RegionSpec{
	{Region: "ap-southeast", Name: "Asia Pacific (Singapore)", LatencyTargetMs: 50},
	{Region: "ap-east", Name: "Asia Pacific (Tokyo)", LatencyTargetMs: 80},
	{Region: "eu-west", Name: "Europe (Frankfurt)", LatencyTargetMs: 40},
	{Region: "eu-north", Name: "Europe (Stockholm)", LatencyTargetMs: 60},
	{Region: "us-east", Name: "US East (Virginia)", LatencyTargetMs: 30},
	{Region: "us-west", Name: "US West (Oregon)", LatencyTargetMs: 50},
	{Region: "me-south", Name: "Middle East (Bahrain)", LatencyTargetMs: 100},
	{Region: "af-south", Name: "Africa (Cape Town)", LatencyTargetMs: 150},
}

// NodeTypes returns the node type catalog.
func NodeTypes() []TypeSpec {
	return slices.Clone(nodeTypes)
}

// Regions returns the region catalog.
func Regions() []RegionSpec {
	return slices.Clone(regions)
}

// LookupType returns the spec for t.
func LookupType(t NodeType) (TypeSpec, bool) {
	for _, spec := range nodeTypes {
		if spec.Type == t {
			return spec, true
		}
	}
	return TypeSpec{}, false
}

// LookupRegion returns the spec for r.
func LookupRegion(r Region) (RegionSpec, bool) {
	for _, spec := range regions {
		if spec.Region == r {
			return spec, true
		}
	}
	return RegionSpec{}, false
}

// ParseNodeType validates a raw node type.
func ParseNodeType(raw string) (NodeType, error) {
	if _, ok := LookupType(NodeType(raw)); !ok {
		return "", dErrors.Newf(dErrors.CodeInvalidType, "invalid node type %q", raw)
	}
	return NodeType(raw), nil
}

// ParseRegion validates a raw region.
func ParseRegion(raw string) (Region, error) {
	if _, ok := LookupRegion(Region(raw)); !ok {
		return "", dErrors.Newf(dErrors.CodeInvalidRegion, "invalid region %q", raw)
	}
	return Region(raw), nil
}
