package models

import "time"

// Filter narrows node listings. Empty fields match everything.
type Filter struct {
	Type   NodeType
	Region Region
	Status NodeStatus
}

// Matches reports whether n satisfies the filter.
func (f Filter) Matches(n *Node) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Region != "" && n.Region != f.Region {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	return true
}

// Topology summarises the network shape.
type Topology struct {
	TotalNodes int                `json:"total_nodes"`
	PeerLinks  int                `json:"peer_links"`
	ByRegion   map[Region]int     `json:"by_region"`
	ByType     map[NodeType]int   `json:"by_type"`
	ByStatus   map[NodeStatus]int `json:"by_status"`
}

// HealthStatus is the overall network verdict.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthNoNodes  HealthStatus = "no_nodes"
)

// StaleAfter is how long an active node may go without a heartbeat before it counts as stale.
const StaleAfter = 2 * time.Minute

// NetworkHealth is the aggregated health report.
type NetworkHealth struct {
	Status         HealthStatus `json:"status"`
	ActiveNodes    int          `json:"active_nodes"`
	AvgTrustScore  float64      `json:"avg_trust_score"`
	AvgUptimePct   float64      `json:"avg_uptime_pct"`
	StaleNodes     int          `json:"stale_nodes"`
	Consensus      RoundStats   `json:"consensus"`
	SuccessRatePct float64      `json:"consensus_success_rate_pct"`
	CheckedAt      time.Time    `json:"checked_at"`
}

// ClassifyHealth applies the health thresholds.
func ClassifyHealth(active int, avgTrust, avgUptime float64, stale int) HealthStatus {
	switch {
	case active == 0:
		return HealthNoNodes
	case avgTrust > 80 && avgUptime > 99 && stale == 0:
		return HealthHealthy
	case avgTrust > 60 && avgUptime > 95:
		return HealthDegraded
	default:
		return HealthCritical
	}
}
