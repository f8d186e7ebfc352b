package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// GovernanceMetrics exposes the Prometheus instrumentation surface for the
// ledger, trust, and policy components.
type GovernanceMetrics struct {
	ledgerAppends      *prometheus.CounterVec
	ledgerChainBreaks  *prometheus.CounterVec
	sessionsOpen       prometheus.Gauge
	policyDecisions    *prometheus.CounterVec
	policyEvalDuration *prometheus.HistogramVec
	trustUpdates       *prometheus.CounterVec
	trustDecays        *prometheus.CounterVec
	rateLimitRejected  *prometheus.CounterVec
	heartbeats         *prometheus.CounterVec
}

var (
	governanceOnce     sync.Once
	governanceRegistry *GovernanceMetrics
)

// Governance returns the process-wide singleton, registering it with the
// default Prometheus registry on first use.
func Governance() *GovernanceMetrics {
	governanceOnce.Do(func() {
		governanceRegistry = &GovernanceMetrics{
			ledgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "governance_ledger_appends_total",
				Help: "Count of R6 audit records appended by result status.",
			}, []string{"status"}),
			ledgerChainBreaks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "governance_ledger_chain_breaks_total",
				Help: "Count of hash-chain verification failures detected, by session.",
			}, []string{"session_id"}),
			sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "governance_sessions_open",
				Help: "Current count of open governed sessions.",
			}),
			policyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "governance_policy_decisions_total",
				Help: "Count of policy evaluations by decision and preset.",
			}, []string{"decision", "preset"}),
			policyEvalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "governance_policy_eval_duration_seconds",
				Help:    "Latency of policy rule evaluation.",
				Buckets: prometheus.DefBuckets,
			}, []string{"preset"}),
			trustUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "governance_trust_updates_total",
				Help: "Count of trust tensor updates by outcome.",
			}, []string{"outcome"}),
			trustDecays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "governance_trust_decays_total",
				Help: "Count of trust tensor decay applications.",
			}, []string{"role"}),
			rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "governance_rate_limit_rejected_total",
				Help: "Count of actions rejected by the session rate limiter.",
			}, []string{"session_id"}),
			heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "governance_heartbeats_total",
				Help: "Count of session heartbeats recorded.",
			}, []string{"session_id"}),
		}
		prometheus.MustRegister(
			governanceRegistry.ledgerAppends,
			governanceRegistry.ledgerChainBreaks,
			governanceRegistry.sessionsOpen,
			governanceRegistry.policyDecisions,
			governanceRegistry.policyEvalDuration,
			governanceRegistry.trustUpdates,
			governanceRegistry.trustDecays,
			governanceRegistry.rateLimitRejected,
			governanceRegistry.heartbeats,
		)
	})
	return governanceRegistry
}

func (m *GovernanceMetrics) ObserveLedgerAppend(status string) {
	if m == nil {
		return
	}
	m.ledgerAppends.WithLabelValues(normalise(status)).Inc()
}

func (m *GovernanceMetrics) IncChainBreak(sessionID string) {
	if m == nil {
		return
	}
	m.ledgerChainBreaks.WithLabelValues(normalise(sessionID)).Inc()
}

func (m *GovernanceMetrics) SetSessionsOpen(count float64) {
	if m == nil {
		return
	}
	m.sessionsOpen.Set(count)
}

func (m *GovernanceMetrics) ObservePolicyDecision(decision, preset string) {
	if m == nil {
		return
	}
	m.policyDecisions.WithLabelValues(normalise(decision), normalise(preset)).Inc()
}

func (m *GovernanceMetrics) ObservePolicyEvalSeconds(preset string, seconds float64) {
	if m == nil {
		return
	}
	m.policyEvalDuration.WithLabelValues(normalise(preset)).Observe(seconds)
}

func (m *GovernanceMetrics) ObserveTrustUpdate(outcome string) {
	if m == nil {
		return
	}
	m.trustUpdates.WithLabelValues(normalise(outcome)).Inc()
}

func (m *GovernanceMetrics) ObserveTrustDecay(role string) {
	if m == nil {
		return
	}
	m.trustDecays.WithLabelValues(normalise(role)).Inc()
}

func (m *GovernanceMetrics) IncRateLimitRejected(sessionID string) {
	if m == nil {
		return
	}
	m.rateLimitRejected.WithLabelValues(normalise(sessionID)).Inc()
}

func (m *GovernanceMetrics) IncHeartbeat(sessionID string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(normalise(sessionID)).Inc()
}

func normalise(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
