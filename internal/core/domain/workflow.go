// Package domain contains the core entities of the flowstack engine.
// This is part of the Functional Core - no I/O, no side effects beyond
// the entities themselves.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Workflow Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrExecutionClosed   = errors.New("workflow execution is closed")
	ErrMissingTaskQueue  = errors.New("task queue is required")
	ErrMissingName       = errors.New("workflow name is required")
)

// =============================================================================
// Workflow Status
// =============================================================================

// WorkflowStatus represents the lifecycle state of a workflow execution.
type WorkflowStatus string

const (
	StatusPending    WorkflowStatus = "pending"
	StatusRunning    WorkflowStatus = "running"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
	StatusCanceled   WorkflowStatus = "canceled"
	StatusTerminated WorkflowStatus = "terminated"
	StatusTimedOut   WorkflowStatus = "timed_out"
)

// IsClosed reports whether the status is terminal.
func (s WorkflowStatus) IsClosed() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusTerminated, StatusTimedOut:
		return true
	default:
		return false
	}
}

// validTransitions maps each status to the statuses it may move to.
var validTransitions = map[WorkflowStatus][]WorkflowStatus{
	StatusPending: {StatusRunning, StatusCanceled, StatusTerminated},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCanceled, StatusTerminated, StatusTimedOut},
}

// ValidateTransition checks whether a status transition is allowed.
func ValidateTransition(from, to WorkflowStatus) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	if from.IsClosed() {
		return ErrExecutionClosed
	}
	return ErrInvalidTransition
}

// =============================================================================
// Workflow Execution
// =============================================================================

// WorkflowExecution represents one durable run of a workflow definition.
// Progress is never stored here directly - it is derived from the event
// history, so an execution survives a server restart.
type WorkflowExecution struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	Namespace    string         `json:"namespace"`
	Definition   string         `json:"definition"`
	TaskQueue    string         `json:"task_queue"`
	Status       WorkflowStatus `json:"status"`
	Input        string         `json:"input,omitempty"`
	Result       string         `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
}

// NewWorkflowExecution creates a pending execution of a definition.
func NewWorkflowExecution(namespace, definition, taskQueue, input string) (*WorkflowExecution, error) {
	if definition == "" {
		return nil, ErrMissingName
	}
	if taskQueue == "" {
		return nil, ErrMissingTaskQueue
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	now := time.Now().UTC()
	return &WorkflowExecution{
		ID:         uuid.New().String(),
		RunID:      uuid.New().String(),
		Namespace:  namespace,
		Definition: definition,
		TaskQueue:  taskQueue,
		Status:     StatusPending,
		Input:      input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Transition attempts to move the execution to a new status.
func (w *WorkflowExecution) Transition(to WorkflowStatus) error {
	if err := ValidateTransition(w.Status, to); err != nil {
		return err
	}

	w.Status = to
	now := time.Now().UTC()
	w.UpdatedAt = now

	if to == StatusRunning {
		w.StartedAt = &now
	}
	if to.IsClosed() {
		w.ClosedAt = &now
	}

	return nil
}

// Close moves the execution to a terminal status with an optional error
// message. Completion results are set by the caller before closing.
func (w *WorkflowExecution) Close(to WorkflowStatus, errorMessage string) error {
	if !to.IsClosed() {
		return ErrInvalidTransition
	}
	if err := w.Transition(to); err != nil {
		return err
	}
	w.ErrorMessage = errorMessage
	return nil
}
