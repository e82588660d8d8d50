package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the node registry and consensus engine.
type Metrics struct {
	NodesRegistered        *prometheus.CounterVec
	NodeTransitions        *prometheus.CounterVec
	Heartbeats             prometheus.Counter
	SLABreaches            *prometheus.CounterVec
	ConsensusRounds        *prometheus.CounterVec
	ConsensusDuration      prometheus.Histogram
	AutoSuspensions        prometheus.Counter
	InsufficientValidators prometheus.Counter
	LostUpdates            prometheus.Counter
}

// New registers the network metrics with the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the network metrics with reg. Tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NodesRegistered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustnet_nodes_registered_total",
			Help: "Nodes registered, by node type",
		}, []string{"node_type"}),
		NodeTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustnet_node_transitions_total",
			Help: "Node lifecycle transitions, by target status",
		}, []string{"status"}),
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Name: "trustnet_heartbeats_total",
			Help: "Heartbeats accepted",
		}),
		SLABreaches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustnet_sla_breaches_total",
			Help: "Heartbeats reporting figures outside the node type SLA",
		}, []string{"node_type"}),
		ConsensusRounds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustnet_consensus_rounds_total",
			Help: "Completed consensus rounds, by outcome",
		}, []string{"outcome"}),
		ConsensusDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustnet_consensus_round_duration_seconds",
			Help:    "Wall time of a consensus round including vote collection",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		AutoSuspensions: f.NewCounter(prometheus.CounterOpts{
			Name: "trustnet_auto_suspensions_total",
			Help: "Validators suspended for consecutive consensus failures",
		}),
		InsufficientValidators: f.NewCounter(prometheus.CounterOpts{
			Name: "trustnet_consensus_insufficient_validators_total",
			Help: "Rounds refused because too few validators were eligible",
		}),
		LostUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "trustnet_node_cas_conflicts_total",
			Help: "Node writes rejected by compare-and-swap",
		}),
	}
}

func (m *Metrics) IncrementNodeRegistered(nodeType string) {
	if m == nil {
		return
	}
	m.NodesRegistered.WithLabelValues(nodeType).Inc()
}

func (m *Metrics) IncrementTransition(status string) {
	if m == nil {
		return
	}
	m.NodeTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementHeartbeat(slaCompliant bool, nodeType string) {
	if m == nil {
		return
	}
	m.Heartbeats.Inc()
	if !slaCompliant {
		m.SLABreaches.WithLabelValues(nodeType).Inc()
	}
}

// ObserveRound records a completed round. Call with time.Now() at the start of the round.
func (m *Metrics) ObserveRound(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.ConsensusRounds.WithLabelValues(outcome).Inc()
	m.ConsensusDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementAutoSuspension() {
	if m == nil {
		return
	}
	m.AutoSuspensions.Inc()
}

func (m *Metrics) IncrementInsufficientValidators() {
	if m == nil {
		return
	}
	m.InsufficientValidators.Inc()
}

func (m *Metrics) IncrementLostUpdate() {
	if m == nil {
		return
	}
	m.LostUpdates.Inc()
}
