// Package metrics holds the Prometheus instruments for a simulation run.
// The registry is created in cmd and handed to components at construction;
// nothing registers on the global default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters shared by the dispatcher, the inference
// router, and the scheduler. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	actions       *prometheus.CounterVec
	inferenceJobs *prometheus.CounterVec
	ticks         prometheus.Counter
}

// New creates a registry with all simulation instruments registered.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_actions_total",
			Help: "Actions processed by the platform dispatcher.",
		}, []string{"action", "status"}),
		inferenceJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_inference_jobs_total",
			Help: "Generation jobs routed to backends.",
		}, []string{"backend", "status"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agora_ticks_total",
			Help: "Completed simulation ticks.",
		}),
	}
	m.reg.MustRegister(m.actions, m.inferenceJobs, m.ticks)
	return m
}

// Handler serves the registry for /metrics exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveAction records one dispatched action with its outcome status.
func (m *Metrics) ObserveAction(action, status string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, status).Inc()
}

// ObserveInferenceJob records one routed generation job.
func (m *Metrics) ObserveInferenceJob(backend, status string) {
	if m == nil {
		return
	}
	m.inferenceJobs.WithLabelValues(backend, status).Inc()
}

// ObserveTick records one completed tick.
func (m *Metrics) ObserveTick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}
