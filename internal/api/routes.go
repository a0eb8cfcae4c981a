package api

import (
	"jobexecutor/internal/executor"
	"jobexecutor/internal/health"
	"jobexecutor/internal/observability"
	"net/http"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Executor      *executor.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Executor, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/runs", auth(http.HandlerFunc(handler.TriggerRun)))
	mux.Handle("GET /v1/runs", auth(http.HandlerFunc(handler.ListRuns)))
	mux.Handle("GET /v1/runs/{logId}", auth(http.HandlerFunc(handler.GetRun)))
	mux.Handle("GET /v1/runs/{logId}/log", auth(http.HandlerFunc(handler.ReadLog)))
	mux.Handle("DELETE /v1/runs/{logId}", auth(http.HandlerFunc(handler.KillRun)))
	mux.Handle("GET /v1/jobs/{jobId}/running", auth(http.HandlerFunc(handler.JobRunning)))

	// Innermost first; recovery wraps everything
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
