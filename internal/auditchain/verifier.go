package auditchain

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"trustnet/pkg/requestcontext"
)

// VerifierMetrics tracks periodic integrity checks.
type VerifierMetrics struct {
	Runs            prometheus.Counter
	TamperDetected  prometheus.Counter
	EntriesVerified prometheus.Gauge
}

func NewVerifierMetrics(reg prometheus.Registerer) *VerifierMetrics {
	f := promauto.With(reg)
	return &VerifierMetrics{
		Runs: f.NewCounter(prometheus.CounterOpts{
			Name: "trustnet_audit_verifications_total",
			Help: "Periodic audit chain verifications run",
		}),
		TamperDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "trustnet_audit_tamper_detected_total",
			Help: "Verifications that found a broken chain",
		}),
		EntriesVerified: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustnet_audit_entries_verified",
			Help: "Entries checked by the last verification",
		}),
	}
}

// Verifier re-validates the chain on an interval and escalates on tampering.
type Verifier struct {
	chain     *Chain
	interval  time.Duration
	escalator Publisher
	logger    *slog.Logger
	metrics   *VerifierMetrics
}

type VerifierOption func(*Verifier)

func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithEscalation publishes a tamper alert through p when a break is found.
func WithEscalation(p Publisher) VerifierOption {
	return func(v *Verifier) {
		v.escalator = p
	}
}

func WithVerifierMetrics(m *VerifierMetrics) VerifierOption {
	return func(v *Verifier) {
		v.metrics = m
	}
}

func NewVerifier(chain *Chain, interval time.Duration, opts ...VerifierOption) *Verifier {
	v := &Verifier{chain: chain, interval: interval, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run verifies once immediately and then on every tick until ctx is done.
func (v *Verifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		v.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single verification and returns its result.
func (v *Verifier) RunOnce(ctx context.Context) Verification {
	result, err := v.chain.Verify(ctx)
	if err != nil {
		v.logger.ErrorContext(ctx, "audit chain verification failed to run", "error", err)
		return result
	}
	if v.metrics != nil {
		v.metrics.Runs.Inc()
		v.metrics.EntriesVerified.Set(float64(result.Checked))
	}
	if result.ChainValid {
		v.logger.DebugContext(ctx, "audit chain verified", "entries", result.Checked)
		return result
	}

	if v.metrics != nil {
		v.metrics.TamperDetected.Inc()
	}
	v.logger.ErrorContext(ctx, "audit chain tamper detected",
		"event", ActionChainTamperDetected,
		"log_type", "audit",
		"broken_at_hash", result.BrokenAtHash,
		"broken_at_seq", result.BrokenAtSeq,
	)
	if v.escalator != nil {
		alert := &Entry{
			Seq:       result.BrokenAtSeq,
			Hash:      result.BrokenAtHash,
			Action:    ActionChainTamperDetected,
			Actor:     requestcontext.SystemActor,
			Timestamp: time.Now().UTC(),
			Details:   []byte(`{"severity":"CRITICAL"}`),
		}
		if err := v.escalator.Publish(ctx, alert); err != nil {
			v.logger.ErrorContext(ctx, "failed to escalate audit tamper", "error", err)
		}
	}
	return result
}
