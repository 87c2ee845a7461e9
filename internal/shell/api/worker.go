// Package api provides the HTTP surface of the flowstack server: the
// JSON:API management resources and the plain-JSON worker protocol.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/flowstack/internal/shell/engine"
	"github.com/artpar/flowstack/internal/shell/matcher"
)

// =============================================================================
// Worker Handler
// =============================================================================

// WorkerHandler serves the worker protocol: long-poll a task queue,
// then report the attempt's outcome against the task token.
type WorkerHandler struct {
	engine  *engine.Service
	matcher *matcher.Service
	logger  *slog.Logger
}

// NewWorkerHandler creates a worker protocol handler.
func NewWorkerHandler(e *engine.Service, m *matcher.Service, logger *slog.Logger) *WorkerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerHandler{
		engine:  e,
		matcher: m,
		logger:  logger.With("component", "worker_api"),
	}
}

// Routes returns the worker subrouter, mounted under /worker/v1.
func (h *WorkerHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.jsonContentType)

	r.Post("/queues/{queue}/poll", h.handlePoll)
	r.Post("/tasks/{token}/complete", h.handleComplete)
	r.Post("/tasks/{token}/fail", h.handleFail)
	r.Post("/tasks/{token}/heartbeat", h.handleHeartbeat)

	return r
}

func (h *WorkerHandler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Poll
// =============================================================================

// handlePoll leases the next pending task on the queue, parking until
// one arrives or the poll timeout passes. An empty poll returns 204 and
// the worker simply polls again.
func (h *WorkerHandler) handlePoll(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")

	task, err := h.matcher.Poll(r.Context(), queue)
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			// The worker went away mid-poll; nothing to answer.
			return
		}
		h.logger.Error("poll failed", "task_queue", queue, "error", err)
		h.writeError(w, http.StatusInternalServerError, "poll failed", "internal_error")
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.engine.OnTaskStarted(r.Context(), task); err != nil {
		h.logger.Error("failed to record task start",
			"task_id", task.ID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "failed to record task start", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, taskToResponse(task))
}

// =============================================================================
// Outcomes
// =============================================================================

func (h *WorkerHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req CompleteTaskRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.engine.CompleteActivityTask(r.Context(), token, req.Result); err != nil {
		h.writeOutcomeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkerHandler) handleFail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req FailTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ErrorType == "" {
		h.writeError(w, http.StatusBadRequest, "error_type is required", "validation_error")
		return
	}

	if err := h.engine.FailActivityTask(r.Context(), token, req.ErrorType, req.ErrorMessage); err != nil {
		h.writeOutcomeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkerHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	task, err := h.matcher.Heartbeat(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, matcher.ErrUnknownTaskToken):
			h.writeError(w, http.StatusNotFound, "unknown task token", "unknown_token")
		case errors.Is(err, matcher.ErrTaskNotLeased):
			h.writeError(w, http.StatusConflict, "task is not leased", "not_leased")
		default:
			h.logger.Error("heartbeat failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "heartbeat failed", "internal_error")
		}
		return
	}

	resp := HeartbeatResponse{TaskToken: task.TaskToken}
	if task.LeaseExpires != nil {
		resp.LeaseExpires = *task.LeaseExpires
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// writeOutcomeError maps engine errors for the outcome endpoints. A
// stale token is the worker's cue to drop the attempt silently.
func (h *WorkerHandler) writeOutcomeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrStaleTaskToken):
		h.writeError(w, http.StatusConflict, "task token is stale", "stale_token")
	case errors.Is(err, engine.ErrExecutionClosed):
		h.writeError(w, http.StatusConflict, "workflow execution is closed", "execution_closed")
	case errors.Is(err, engine.ErrExecutionNotFound):
		h.writeError(w, http.StatusNotFound, "workflow execution not found", "execution_not_found")
	default:
		h.logger.Error("task outcome failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "task outcome failed", "internal_error")
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (h *WorkerHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *WorkerHandler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
