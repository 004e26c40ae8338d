// Package metrics provides Prometheus metrics for the conversation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	TurnsTotal              *prometheus.CounterVec
	DelegationsTotal        *prometheus.CounterVec
	ToolInvocationsTotal    *prometheus.CounterVec
	CompletionDuration      *prometheus.HistogramVec
	CheckpointFailuresTotal prometheus.Counter
	Patience                *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
// A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_turns_total",
			Help: "Total number of processed turns by outcome",
		},
		[]string{"outcome"},
	)

	m.DelegationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_delegations_total",
			Help: "Delegation attempts by final phase",
		},
		[]string{"phase"},
	)

	m.ToolInvocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_tool_invocations_total",
			Help: "Tool calls handled by the dispatcher",
		},
		[]string{"tool", "status"},
	)

	m.CompletionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duet_completion_duration_seconds",
			Help:    "Duration of completion requests in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	m.CheckpointFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_checkpoint_failures_total",
			Help: "Failed attempts to flush pending messages to the store",
		},
	)

	m.Patience = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duet_patience",
			Help: "Current escalation counter of the active persona",
		},
		[]string{"persona"},
	)

	return m
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordDelegation counts a delegation attempt that ended in phase.
func (m *Metrics) RecordDelegation(phase string) {
	if m == nil {
		return
	}
	m.DelegationsTotal.WithLabelValues(phase).Inc()
}

// RecordToolInvocation counts one dispatched tool call.
func (m *Metrics) RecordToolInvocation(tool, status string) {
	if m == nil {
		return
	}
	m.ToolInvocationsTotal.WithLabelValues(tool, status).Inc()
}

// ObserveCompletion records the latency of one completion request.
func (m *Metrics) ObserveCompletion(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CompletionDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordCheckpointFailure counts a failed flush.
func (m *Metrics) RecordCheckpointFailure() {
	if m == nil {
		return
	}
	m.CheckpointFailuresTotal.Inc()
}

// SetPatience publishes the escalation counter of persona.
func (m *Metrics) SetPatience(persona string, v int) {
	if m == nil {
		return
	}
	m.Patience.WithLabelValues(persona).Set(float64(v))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
