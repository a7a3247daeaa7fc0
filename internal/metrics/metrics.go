// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	stageInvocations *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	pipelineRuns     *prometheus.CounterVec
}

// New creates and registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insurechat_stage_invocations_total",
				Help: "Total number of agent stage invocations",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "insurechat_stage_duration_seconds",
				Help: "Duration of agent stage calls",
			},
			[]string{"stage"},
		),
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insurechat_pipeline_transitions_total",
				Help: "Pipeline state transitions by target state",
			},
			[]string{"state"},
		),
	}

	m.registry.MustRegister(
		m.stageInvocations,
		m.stageDuration,
		m.pipelineRuns,
		collectors.NewGoCollector(),
	)

	return m
}

// ObserveStage records one stage invocation.
func (m *Metrics) ObserveStage(stage string, d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.stageInvocations.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveTransition records a pipeline state transition.
func (m *Metrics) ObserveTransition(state string) {
	m.pipelineRuns.WithLabelValues(state).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
