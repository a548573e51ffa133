// Package metrics exposes a process's orchestrator/approval/monitor
// activity as Prometheus metrics, scraped through a /metrics endpoint.
// Each Metrics instance owns its own registry rather than registering
// against prometheus.DefaultRegisterer, so a host process (or a test that
// builds several runtime.Stacks) can build more than one without a
// duplicate-collector panic.
package metrics

import (
	"net/http"

	"github.com/c360studio/agentflow/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus surface for one runtime.Stack.
type Metrics struct {
	registry *prometheus.Registry

	invocationsTotal         *prometheus.CounterVec
	approvalTransitionsTotal *prometheus.CounterVec
}

// New constructs a Metrics instance with its collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_orchestrator_invocations_total",
			Help: "Workflow invocations handled by the orchestrator (C8), labeled by resulting status.",
		}, []string{"status"}),
		approvalTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_approval_transitions_total",
			Help: "Approval (C5) lifecycle transitions, labeled by event.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(m.invocationsTotal, m.approvalTransitionsTotal)
	return m
}

// RecordInvocation increments the invocation counter for the status an
// orchestrator Invoke ended with (e.g. "completed", "suspended", "failed",
// or "error" when the run returned no state).
func (m *Metrics) RecordInvocation(status string) {
	m.invocationsTotal.WithLabelValues(status).Inc()
}

// RecordApprovalTransition increments the approval transition counter for
// evt (e.g. "approval:created", "approval:resolved", "approval:expired").
func (m *Metrics) RecordApprovalTransition(evt string) {
	m.approvalTransitionsTotal.WithLabelValues(evt).Inc()
}

// RegisterMonitor wires mon's Stats() counters into this registry. Call once
// per Metrics instance.
func (m *Metrics) RegisterMonitor(mon *monitor.Monitor) {
	m.registry.MustRegister(newMonitorCollector(mon))
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
