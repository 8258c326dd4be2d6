package controller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the control loop. A nil *Metrics records nothing.
type Metrics struct {
	messagesReceived   *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	evaluationsTotal   *prometheus.CounterVec
	triggersTotal      *prometheus.CounterVec
	cooldownSuppressed *prometheus.CounterVec
	dispatchTotal      *prometheus.CounterVec
	publishErrors      *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	activeRules        prometheus.Gauge
}

// NewMetrics creates and registers the metrics. A nil registerer returns nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "messages_received_total",
			Help:      "Inbound transport messages by kind",
		}, []string{"kind"}),

		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "decode_errors_total",
			Help:      "Discarded inbound messages by reason",
		}, []string{"kind", "reason"}),

		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "rule_evaluations_total",
			Help:      "Rule condition evaluations by result",
		}, []string{"rule_id", "result"}),

		triggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "rule_triggers_total",
			Help:      "Rules fired",
		}, []string{"rule_id", "action"}),

		cooldownSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "cooldown_suppressed_total",
			Help:      "Rules whose condition held but were still cooling down",
		}, []string{"rule_id"}),

		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "dispatch_total",
			Help:      "Dispatch outcomes by action",
		}, []string{"action", "outcome"}),

		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "publish_errors_total",
			Help:      "Failed command and alert publishes",
		}, []string{"kind"}),

		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating all rules for one reading",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartbolt",
			Subsystem: "control",
			Name:      "active_rules",
			Help:      "Number of rules in the store",
		}),
	}

	reg.MustRegister(
		m.messagesReceived,
		m.decodeErrors,
		m.evaluationsTotal,
		m.triggersTotal,
		m.cooldownSuppressed,
		m.dispatchTotal,
		m.publishErrors,
		m.evaluationDuration,
		m.activeRules,
	)
	return m
}

func (m *Metrics) received(kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) decodeError(kind, reason string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) evaluated(ruleID string, matched bool) {
	if m == nil {
		return
	}
	result := "false"
	if matched {
		result = "true"
	}
	m.evaluationsTotal.WithLabelValues(ruleID, result).Inc()
}

func (m *Metrics) triggered(ruleID string, action Action) {
	if m == nil {
		return
	}
	m.triggersTotal.WithLabelValues(ruleID, string(action)).Inc()
}

func (m *Metrics) suppressed(ruleID string) {
	if m == nil {
		return
	}
	m.cooldownSuppressed.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) dispatched(action Action, outcome Outcome) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(string(action), string(outcome)).Inc()
}

func (m *Metrics) publishFailed(kind string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeEvaluation(start time.Time) {
	if m == nil {
		return
	}
	m.evaluationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) setActiveRules(n int) {
	if m == nil {
		return
	}
	m.activeRules.Set(float64(n))
}
