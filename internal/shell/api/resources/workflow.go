package resources

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/shell/engine"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Workflow JSON:API Model
// =============================================================================

// Workflow wraps a workflow execution for JSON:API. The step-level
// progress fields are derived from history replay and only populated on
// single-resource reads.
type Workflow struct {
	ID           string     `json:"-"`
	RunID        string     `json:"run_id"`
	Namespace    string     `json:"namespace"`
	Definition   string     `json:"definition"`
	TaskQueue    string     `json:"task_queue"`
	Status       string     `json:"status"`
	Input        string     `json:"input,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`

	CompletedSteps []string `json:"completed_steps,omitempty"`
	FailedSteps    []string `json:"failed_steps,omitempty"`
	ScheduledSteps []string `json:"scheduled_steps,omitempty"`
	Signals        []string `json:"signals,omitempty"`
	HistoryLength  int      `json:"history_length,omitempty"`
}

// GetID returns the execution ID for JSON:API.
func (w Workflow) GetID() string {
	return w.ID
}

// SetID sets the execution ID for JSON:API.
func (w *Workflow) SetID(id string) error {
	w.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (w Workflow) GetName() string {
	return "workflows"
}

// WorkflowFromDomain converts an execution to its JSON:API shape.
func WorkflowFromDomain(exec *domain.WorkflowExecution) Workflow {
	return Workflow{
		ID:           exec.ID,
		RunID:        exec.RunID,
		Namespace:    exec.Namespace,
		Definition:   exec.Definition,
		TaskQueue:    exec.TaskQueue,
		Status:       string(exec.Status),
		Input:        exec.Input,
		ErrorMessage: exec.ErrorMessage,
		CreatedAt:    exec.CreatedAt,
		UpdatedAt:    exec.UpdatedAt,
		StartedAt:    exec.StartedAt,
		ClosedAt:     exec.ClosedAt,
	}
}

// workflowFromState fills in the replay-derived progress fields.
func workflowFromState(state *engine.ExecutionState) Workflow {
	w := WorkflowFromDomain(state.Execution)
	w.CompletedSteps = sortedStepNames(state.Progress.CompletedSteps)
	w.FailedSteps = sortedStepNames(state.Progress.FailedSteps)
	w.Signals = state.Progress.Signals
	w.HistoryLength = len(state.Events)

	scheduled := make([]string, 0, len(state.Progress.ScheduledSteps))
	for step := range state.Progress.ScheduledSteps {
		scheduled = append(scheduled, step)
	}
	sort.Strings(scheduled)
	w.ScheduledSteps = scheduled
	return w
}

func sortedStepNames(steps map[string]bool) []string {
	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// WorkflowResource
// =============================================================================

// WorkflowResource implements the api2go resource interface for
// workflow executions.
type WorkflowResource struct {
	Store  store.Store
	Engine *engine.Service
}

// NewWorkflowResource creates a workflow resource handler.
func NewWorkflowResource(s store.Store, e *engine.Service) *WorkflowResource {
	return &WorkflowResource{Store: s, Engine: e}
}

// FindAll returns executions in a namespace.
// GET /api/v1/workflows?filter[namespace]=default
func (r WorkflowResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	opts := listOptions(req)
	ctx := req.PlainRequest.Context()
	namespace := requestNamespace(req)

	executions, err := r.Store.ListExecutions(ctx, namespace, opts)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	result := make([]Workflow, 0, len(executions))
	for i := range executions {
		result = append(result, WorkflowFromDomain(&executions[i]))
	}

	return &Response{
		Code: http.StatusOK,
		Res:  result,
		Meta: map[string]interface{}{
			"total":  len(result),
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	}, nil
}

// FindOne returns one execution with its replayed progress.
// GET /api/v1/workflows/{id}
func (r WorkflowResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	state, err := r.Engine.DescribeExecution(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			return httpError(http.StatusNotFound, "Workflow not found")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{
		Code: http.StatusOK,
		Res:  workflowFromState(state),
	}, nil
}

// Create starts a new execution of a registered definition.
// POST /api/v1/workflows
func (r WorkflowResource) Create(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	wf, ok := obj.(Workflow)
	if !ok {
		return httpError(http.StatusBadRequest, "Invalid request body")
	}
	if wf.Definition == "" {
		return httpError(http.StatusBadRequest, "definition is required")
	}

	exec, err := r.Engine.StartWorkflow(ctx, wf.Namespace, wf.Definition, wf.Input)
	if err != nil {
		if errors.Is(err, engine.ErrDefinitionNotFound) {
			return httpError(http.StatusNotFound, "Definition not found")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{
		Code: http.StatusCreated,
		Res:  WorkflowFromDomain(exec),
	}, nil
}

// Delete terminates an execution. JSON:API has no verb for terminate,
// so DELETE maps to the operator hard stop; the row and its history
// stay queryable until namespace retention removes them.
// DELETE /api/v1/workflows/{id}
func (r WorkflowResource) Delete(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	err := r.Engine.TerminateWorkflow(ctx, id, "deleted via api")
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrExecutionNotFound):
			return httpError(http.StatusNotFound, "Workflow not found")
		case errors.Is(err, engine.ErrExecutionClosed):
			return httpError(http.StatusConflict, "Workflow is already closed")
		default:
			return &Response{Code: http.StatusInternalServerError}, err
		}
	}

	return &Response{Code: http.StatusNoContent}, nil
}

// =============================================================================
// Custom Actions
// =============================================================================

// SignalRequest is the body of a signal action.
type SignalRequest struct {
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"`
}

// ReasonRequest is the body of a cancel or terminate action.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Signal appends a named signal to an open execution.
// POST /api/v1/workflows/{id}/signal
func (r WorkflowResource) Signal(id string, req *http.Request) (api2go.Responder, error) {
	var body SignalRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Name == "" {
		return httpError(http.StatusBadRequest, "signal name is required")
	}

	if err := r.Engine.SignalWorkflow(req.Context(), id, body.Name, body.Payload); err != nil {
		return workflowActionError(err)
	}
	return r.describe(req, id)
}

// Cancel closes an open execution as canceled.
// POST /api/v1/workflows/{id}/cancel
func (r WorkflowResource) Cancel(id string, req *http.Request) (api2go.Responder, error) {
	var body ReasonRequest
	_ = json.NewDecoder(req.Body).Decode(&body)

	if err := r.Engine.CancelWorkflow(req.Context(), id, body.Reason); err != nil {
		return workflowActionError(err)
	}
	return r.describe(req, id)
}

// Terminate force-closes an open execution.
// POST /api/v1/workflows/{id}/terminate
func (r WorkflowResource) Terminate(id string, req *http.Request) (api2go.Responder, error) {
	var body ReasonRequest
	_ = json.NewDecoder(req.Body).Decode(&body)

	if err := r.Engine.TerminateWorkflow(req.Context(), id, body.Reason); err != nil {
		return workflowActionError(err)
	}
	return r.describe(req, id)
}

func (r WorkflowResource) describe(req *http.Request, id string) (api2go.Responder, error) {
	state, err := r.Engine.DescribeExecution(req.Context(), id)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}
	return &Response{
		Code: http.StatusOK,
		Res:  workflowFromState(state),
	}, nil
}

func workflowActionError(err error) (api2go.Responder, error) {
	switch {
	case errors.Is(err, engine.ErrExecutionNotFound):
		return httpError(http.StatusNotFound, "Workflow not found")
	case errors.Is(err, engine.ErrExecutionClosed):
		return httpError(http.StatusConflict, "Workflow is already closed")
	default:
		return &Response{Code: http.StatusInternalServerError}, err
	}
}
