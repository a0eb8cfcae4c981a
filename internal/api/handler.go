// Package api provides the executor's HTTP surface: the scheduler triggers,
// inspects and kills invocations through it.
package api

import (
	"encoding/json"
	"jobexecutor/internal/apperrors"
	"jobexecutor/internal/executor"
	"jobexecutor/internal/health"
	"jobexecutor/internal/job"
	"log/slog"
	"net/http"
	"strconv"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20

// Handler contains the HTTP handlers.
type Handler struct {
	svc    *executor.Service
	health *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(svc *executor.Service, healthChecker *health.Checker) *Handler {
	return &Handler{svc: svc, health: healthChecker}
}

// ListResponse wraps the invocation list.
type ListResponse struct {
	Runs []executor.Status `json:"runs"`
}

// TriggerRun handles POST /v1/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var inv job.Invocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	accepted, err := h.svc.Trigger(r.Context(), inv)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, accepted)
}

// ListRuns handles GET /v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, ListResponse{Runs: h.svc.List()})
}

// GetRun handles GET /v1/runs/{logId}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	logID, ok := h.pathID(w, r, "logId")
	if !ok {
		return
	}

	status, err := h.svc.Status(logID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// ReadLog handles GET /v1/runs/{logId}/log?fromLine=N
func (h *Handler) ReadLog(w http.ResponseWriter, r *http.Request) {
	logID, ok := h.pathID(w, r, "logId")
	if !ok {
		return
	}

	fromLine := 1
	if v := r.URL.Query().Get("fromLine"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "fromLine must be an integer")
			return
		}
		fromLine = n
	}

	page, err := h.svc.ReadLog(logID, fromLine)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

// KillRun handles DELETE /v1/runs/{logId}
func (h *Handler) KillRun(w http.ResponseWriter, r *http.Request) {
	logID, ok := h.pathID(w, r, "logId")
	if !ok {
		return
	}

	if err := h.svc.Kill(logID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// JobRunning handles GET /v1/jobs/{jobId}/running. The scheduler asks this
// before routing a trigger to a busy executor.
func (h *Handler) JobRunning(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathID(w, r, "jobId")
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"running": h.svc.Running(jobID)})
}

// Livez handles GET /livez. It does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz. Returns 503 while the orchestrator is
// unreachable or the process is shutting down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSONError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeJSONError writes {"error": message}, the body of every non-2xx response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps service errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, apperrors.PublicMessage(err))
}
