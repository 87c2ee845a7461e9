package api

import (
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
)

// =============================================================================
// Health Types
// =============================================================================

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the /ready payload.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the worker surface error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// Worker Surface Types
// =============================================================================

// TaskResponse is one leased activity task as handed to a worker. The
// task token authenticates exactly one attempt; completions carrying a
// rotated-away token are rejected.
type TaskResponse struct {
	TaskToken    string    `json:"task_token"`
	WorkflowID   string    `json:"workflow_id"`
	RunID        string    `json:"run_id"`
	Namespace    string    `json:"namespace"`
	StepName     string    `json:"step_name"`
	ActivityType string    `json:"activity_type"`
	TaskQueue    string    `json:"task_queue"`
	Input        string    `json:"input,omitempty"`
	Attempt      int       `json:"attempt"`
	LeaseExpires time.Time `json:"lease_expires"`
}

// CompleteTaskRequest reports a successful activity attempt.
type CompleteTaskRequest struct {
	Result string `json:"result,omitempty"`
}

// FailTaskRequest reports a failed activity attempt. ErrorType is
// matched against the step's non-retryable error list.
type FailTaskRequest struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// HeartbeatResponse confirms a lease extension.
type HeartbeatResponse struct {
	TaskToken    string    `json:"task_token"`
	LeaseExpires time.Time `json:"lease_expires"`
}

func taskToResponse(task *domain.ActivityTask) TaskResponse {
	resp := TaskResponse{
		TaskToken:    task.TaskToken,
		WorkflowID:   task.WorkflowID,
		RunID:        task.RunID,
		Namespace:    task.Namespace,
		StepName:     task.StepName,
		ActivityType: task.ActivityType,
		TaskQueue:    task.TaskQueue,
		Input:        task.Input,
		Attempt:      task.Attempt,
	}
	if task.LeaseExpires != nil {
		resp.LeaseExpires = *task.LeaseExpires
	}
	return resp
}
