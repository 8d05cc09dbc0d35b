// Package metrics provides Prometheus metrics for the nudge agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	Candidates        prometheus.Gauge
	DecisionsTotal    *prometheus.CounterVec
	CommentsTotal     *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	LastCycleUnixTime prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nudge_cycles_total",
				Help: "Monitor cycles by result.",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nudge_cycle_duration_seconds",
				Help:    "Wall time of one monitor cycle.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		Candidates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nudge_cycle_candidates",
				Help: "Candidate work items fetched in the last cycle.",
			},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nudge_decisions_total",
				Help: "Commentary decisions by urgency class and outcome.",
			},
			[]string{"urgency", "outcome"},
		),
		CommentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nudge_comments_total",
				Help: "Comments composed by template family and write result.",
			},
			[]string{"family", "result"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nudge_errors_total",
				Help: "Total errors by component and type.",
			},
			[]string{"component", "type"},
		),
		LastCycleUnixTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nudge_last_cycle_timestamp_seconds",
				Help: "Unix time the last cycle finished.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.CyclesTotal)
	reg.MustRegister(m.CycleDuration)
	reg.MustRegister(m.Candidates)
	reg.MustRegister(m.DecisionsTotal)
	reg.MustRegister(m.CommentsTotal)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.LastCycleUnixTime)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(result string, seconds float64, candidates int, finishedUnix float64) {
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(seconds)
	m.Candidates.Set(float64(candidates))
	m.LastCycleUnixTime.Set(finishedUnix)
}

// RecordDecision increments the decision counter.
func (m *Metrics) RecordDecision(urgency, outcome string) {
	m.DecisionsTotal.WithLabelValues(urgency, outcome).Inc()
}

// RecordComment increments the comment counter.
func (m *Metrics) RecordComment(family, result string) {
	m.CommentsTotal.WithLabelValues(family, result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errType string) {
	m.ErrorsTotal.WithLabelValues(component, errType).Inc()
}
