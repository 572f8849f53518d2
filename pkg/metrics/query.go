package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SessionMetrics represents aggregated backend usage for one run.
type SessionMetrics struct {
	SessionID       string  `json:"session_id"`
	BackendRequests int64   `json:"backend_requests"`
	BackendErrors   int64   `json:"backend_errors"`
	Regenerations   int64   `json:"regenerations"`
	AvgRequestSecs  float64 `json:"avg_request_seconds"`
}

// QueryService provides methods to query engine metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetSessionMetrics retrieves aggregated backend request metrics for a single
// session, summed across both generation endpoints.
func (q *QueryService) GetSessionMetrics(ctx context.Context, sessionID string) (*SessionMetrics, error) {
	metrics := &SessionMetrics{
		SessionID: sessionID,
	}

	requestsQuery := fmt.Sprintf(`sum(backend_requests_total{session_id=%q})`, sessionID)
	requestsResult, _, err := q.queryAPI.Query(ctx, requestsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query backend requests: %w", err)
	}
	if vector, ok := requestsResult.(model.Vector); ok && len(vector) > 0 {
		metrics.BackendRequests = int64(vector[0].Value)
	}

	errorsQuery := fmt.Sprintf(`sum(backend_requests_total{session_id=%q, status="error"})`, sessionID)
	errorsResult, _, err := q.queryAPI.Query(ctx, errorsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query backend errors: %w", err)
	}
	if vector, ok := errorsResult.(model.Vector); ok && len(vector) > 0 {
		metrics.BackendErrors = int64(vector[0].Value)
	}

	regenQuery := fmt.Sprintf(`sum(script_revisions_total{session_id=%q, kind="regenerate", status="success"})`, sessionID)
	regenResult, _, err := q.queryAPI.Query(ctx, regenQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query regenerations: %w", err)
	}
	if vector, ok := regenResult.(model.Vector); ok && len(vector) > 0 {
		metrics.Regenerations = int64(vector[0].Value)
	}

	avgQuery := fmt.Sprintf(
		`sum(backend_request_duration_seconds_sum{session_id=%q}) / sum(backend_request_duration_seconds_count{session_id=%q})`,
		sessionID, sessionID)
	avgResult, _, err := q.queryAPI.Query(ctx, avgQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query request duration: %w", err)
	}
	if vector, ok := avgResult.(model.Vector); ok && len(vector) > 0 {
		metrics.AvgRequestSecs = float64(vector[0].Value)
	}

	return metrics, nil
}
