// Package observability provides prometheus metrics for the case processing
// pipeline.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Pipeline *PipelineMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pipelineMetrics, err := NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Pipeline: pipelineMetrics,
	}, nil
}

// Handler returns an HTTP handler exposing the registry in prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PipelineMetrics contains Prometheus metrics for the prediction fan-out,
// aggregation and overlay stages.
type PipelineMetrics struct {
	endpointRequestsTotal     *prometheus.CounterVec
	fanOutDuration            *prometheus.HistogramVec
	aggregationArtifactsTotal *prometheus.CounterVec
	overlaysComposedTotal     *prometheus.CounterVec
	workflowRunsTotal         *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		endpointRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "endpoint_requests_total",
				Help: "Total number of inference endpoint requests",
			},
			[]string{"service_type", "outcome"}, // outcome: success, error
		),
		fanOutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fanout_duration_seconds",
				Help:    "Duration of the prediction fan-out per profile",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"version"},
		),
		aggregationArtifactsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregation_artifacts_total",
				Help: "Total number of aggregated artifacts",
			},
			[]string{"kind", "outcome"}, // kind: prediction, heatmap, mask
		),
		overlaysComposedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlays_composed_total",
				Help: "Total number of overlay composition attempts",
			},
			[]string{"outcome"}, // outcome: success, unavailable, error
		),
		workflowRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_runs_total",
				Help: "Total number of per-profile workflow runs",
			},
			[]string{"version", "outcome"},
		),
	}

	collectors := []prometheus.Collector{
		m.endpointRequestsTotal,
		m.fanOutDuration,
		m.aggregationArtifactsTotal,
		m.overlaysComposedTotal,
		m.workflowRunsTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// All record methods are nil-safe so metrics stay optional in tests.

// RecordEndpointRequest counts one endpoint call with its outcome.
func (m *PipelineMetrics) RecordEndpointRequest(serviceType, outcome string) {
	if m == nil {
		return
	}
	m.endpointRequestsTotal.WithLabelValues(serviceType, outcome).Inc()
}

// RecordFanOutDuration observes one fan-out duration in seconds.
func (m *PipelineMetrics) RecordFanOutDuration(version string, seconds float64) {
	if m == nil {
		return
	}
	m.fanOutDuration.WithLabelValues(version).Observe(seconds)
}

// RecordAggregationArtifact counts one aggregated artifact by kind and outcome.
func (m *PipelineMetrics) RecordAggregationArtifact(kind, outcome string) {
	if m == nil {
		return
	}
	m.aggregationArtifactsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordOverlayComposed counts one overlay composition attempt.
func (m *PipelineMetrics) RecordOverlayComposed(outcome string) {
	if m == nil {
		return
	}
	m.overlaysComposedTotal.WithLabelValues(outcome).Inc()
}

// RecordWorkflowRun counts one per-profile workflow run.
func (m *PipelineMetrics) RecordWorkflowRun(version, outcome string) {
	if m == nil {
		return
	}
	m.workflowRunsTotal.WithLabelValues(version, outcome).Inc()
}
