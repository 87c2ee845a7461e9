package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// =============================================================================
// Task Errors
// =============================================================================

var (
	ErrTaskNotLeased    = errors.New("task is not leased")
	ErrTaskAlreadyDone  = errors.New("task already reached a terminal state")
	ErrInvalidTaskState = errors.New("invalid task state transition")
)

// =============================================================================
// Task State
// =============================================================================

// TaskState represents the lifecycle state of an activity task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"   // waiting in queue
	TaskStateLeased    TaskState = "leased"    // handed to a worker, lease running
	TaskStateBackoff   TaskState = "backoff"   // failed, waiting for retry timer
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed" // retries exhausted
	TaskStateCanceled  TaskState = "canceled"
)

// IsTerminal reports whether the task state is terminal.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// =============================================================================
// Activity Task
// =============================================================================

// ActivityTask is one dispatchable unit of work scheduled by a workflow
// step. Workers lease tasks from a queue, execute the named activity and
// report completion or failure against the task token.
type ActivityTask struct {
	ID           string     `json:"id"`
	Namespace    string     `json:"namespace"`
	WorkflowID   string     `json:"workflow_id"`
	RunID        string     `json:"run_id"`
	StepName     string     `json:"step_name"`
	ActivityType string     `json:"activity_type"`
	TaskQueue    string     `json:"task_queue"`
	TaskToken    string     `json:"task_token"`
	Input        string     `json:"input,omitempty"`
	Attempt      int        `json:"attempt"`
	State        TaskState  `json:"state"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LeasedAt     *time.Time `json:"leased_at,omitempty"`
	LeaseExpires *time.Time `json:"lease_expires,omitempty"`
	HeartbeatAt  *time.Time `json:"heartbeat_at,omitempty"`
}

// NewTaskToken generates an opaque token identifying one task attempt.
func NewTaskToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; a zero token would collide, so panic loudly.
		panic("task token generation failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// NewActivityTask creates a pending task for a workflow step.
func NewActivityTask(exec *WorkflowExecution, stepName, activityType, taskQueue, input string, attempt int) *ActivityTask {
	if taskQueue == "" {
		taskQueue = exec.TaskQueue
	}
	if attempt < 1 {
		attempt = 1
	}

	now := time.Now().UTC()
	return &ActivityTask{
		ID:           NewTaskToken(),
		Namespace:    exec.Namespace,
		WorkflowID:   exec.ID,
		RunID:        exec.RunID,
		StepName:     stepName,
		ActivityType: activityType,
		TaskQueue:    taskQueue,
		TaskToken:    NewTaskToken(),
		Input:        input,
		Attempt:      attempt,
		State:        TaskStatePending,
		ScheduledAt:  now,
		UpdatedAt:    now,
	}
}

// Lease marks the task as leased until the given deadline.
func (t *ActivityTask) Lease(until time.Time) error {
	if t.State != TaskStatePending {
		return ErrInvalidTaskState
	}
	now := time.Now().UTC()
	t.State = TaskStateLeased
	t.LeasedAt = &now
	t.LeaseExpires = &until
	t.UpdatedAt = now
	return nil
}

// Heartbeat extends the lease of a leased task.
func (t *ActivityTask) Heartbeat(until time.Time) error {
	if t.State != TaskStateLeased {
		return ErrTaskNotLeased
	}
	now := time.Now().UTC()
	t.HeartbeatAt = &now
	t.LeaseExpires = &until
	t.UpdatedAt = now
	return nil
}

// Finish moves the task to a terminal state.
func (t *ActivityTask) Finish(state TaskState, errorMessage string) error {
	if t.State.IsTerminal() {
		return ErrTaskAlreadyDone
	}
	if !state.IsTerminal() {
		return ErrInvalidTaskState
	}
	t.State = state
	t.ErrorMessage = errorMessage
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// RequeueForRetry resets a failed attempt into a fresh pending attempt.
// A new task token is issued so stale completions from the previous
// attempt cannot be applied.
func (t *ActivityTask) RequeueForRetry() {
	t.Attempt++
	t.State = TaskStatePending
	t.TaskToken = NewTaskToken()
	t.LeasedAt = nil
	t.LeaseExpires = nil
	t.HeartbeatAt = nil
	t.UpdatedAt = time.Now().UTC()
}
