// Package metrics provides Prometheus-based metrics recording for the
// workflow engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics surface the engine components record against.
type Recorder interface {
	// ObserveBackendRequest records one remote generation call.
	ObserveBackendRequest(sessionID, endpoint, status, errorType string, duration time.Duration)

	// IncStageTransition records a workflow stage transition.
	IncStageTransition(sessionID, from, to string)

	// IncScriptRevision records a script mutation by kind (edit, regenerate,
	// commit, reopen) and outcome.
	IncScriptRevision(sessionID, kind, status string)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec
	stageTransitionsTotal  *prometheus.CounterVec
	scriptRevisionsTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		backendRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_requests_total",
				Help: "Total number of remote generation requests by endpoint and status",
			},
			[]string{"session_id", "endpoint", "status", "error_type"},
		),
		backendRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_request_duration_seconds",
				Help:    "Duration of remote generation requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"session_id", "endpoint"},
		),
		stageTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_stage_transitions_total",
				Help: "Total number of workflow stage transitions",
			},
			[]string{"session_id", "from", "to"},
		),
		scriptRevisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "script_revisions_total",
				Help: "Total number of script revision operations by kind and status",
			},
			[]string{"session_id", "kind", "status"},
		),
	}
}

// ObserveBackendRequest records one remote generation call.
func (p *PrometheusRecorder) ObserveBackendRequest(sessionID, endpoint, status, errorType string, duration time.Duration) {
	p.backendRequestsTotal.WithLabelValues(sessionID, endpoint, status, errorType).Inc()
	p.backendRequestDuration.WithLabelValues(sessionID, endpoint).Observe(duration.Seconds())
}

// IncStageTransition records a workflow stage transition.
func (p *PrometheusRecorder) IncStageTransition(sessionID, from, to string) {
	p.stageTransitionsTotal.WithLabelValues(sessionID, from, to).Inc()
}

// IncScriptRevision records a script mutation by kind and outcome.
func (p *PrometheusRecorder) IncScriptRevision(sessionID, kind, status string) {
	p.scriptRevisionsTotal.WithLabelValues(sessionID, kind, status).Inc()
}

// NopRecorder discards all observations. Used in tests and when metrics are
// disabled.
type NopRecorder struct{}

func (NopRecorder) ObserveBackendRequest(_, _, _, _ string, _ time.Duration) {}
func (NopRecorder) IncStageTransition(_, _, _ string)                        {}
func (NopRecorder) IncScriptRevision(_, _, _ string)                         {}
