package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerdictsTotal counts guardrail verdicts by direction (input/output) and outcome.
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisguard_verdicts_total",
			Help: "Total number of guardrail verdicts",
		},
		[]string{"direction", "outcome"},
	)

	// PIIDetectionsTotal counts PII categories found, per direction.
	PIIDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisguard_pii_detections_total",
			Help: "Total number of PII categories detected",
		},
		[]string{"direction", "category"},
	)

	// InjectionBlocksTotal counts inputs blocked for prompt injection.
	InjectionBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisguard_injection_blocks_total",
			Help: "Total number of inputs blocked as prompt injection",
		},
	)

	// SignatureChecksTotal counts inbound webhook signature checks by result.
	SignatureChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisguard_signature_checks_total",
			Help: "Total number of webhook signature checks",
		},
		[]string{"result"},
	)

	// TruncationsTotal counts inputs cut by the length guard, per channel.
	TruncationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisguard_truncations_total",
			Help: "Total number of inputs truncated by the length guard",
		},
		[]string{"channel"},
	)

	// PolicyDecisionsTotal tracks disposition policy decisions.
	PolicyDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisguard_policy_decisions_total",
			Help: "Total number of disposition policy decisions",
		},
		[]string{"decision"},
	)

	// CheckDuration tracks how long a guardrail check takes.
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegisguard_check_duration_seconds",
			Help:    "Duration of guardrail checks",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"direction"},
	)
)

// Outcome labels for VerdictsTotal.
const (
	OutcomePass      = "pass"
	OutcomeSanitized = "sanitized"
	OutcomeFlagged   = "flagged"
	OutcomeBlocked   = "blocked"
)

// ObserveCheck records one guardrail check.
func ObserveCheck(direction, outcome string, categories []string, started time.Time) {
	VerdictsTotal.WithLabelValues(direction, outcome).Inc()
	for _, c := range categories {
		PIIDetectionsTotal.WithLabelValues(direction, c).Inc()
	}
	CheckDuration.WithLabelValues(direction).Observe(time.Since(started).Seconds())
}
