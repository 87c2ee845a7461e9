package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Durable Timer
// =============================================================================

// TimerKind distinguishes why a timer was created.
type TimerKind string

const (
	// TimerKindDelay delays the first scheduling of a step.
	TimerKindDelay TimerKind = "delay"
	// TimerKindRetry delays the re-dispatch of a failed task attempt.
	TimerKindRetry TimerKind = "retry"
)

// Timer is a durable timer persisted by the engine. Timers survive
// restarts: the timer worker fires any timer whose deadline has passed,
// no matter when the process started.
type Timer struct {
	ID         string    `json:"id"`
	Namespace  string    `json:"namespace"`
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	StepName   string    `json:"step_name"`
	Kind       TimerKind `json:"kind"`
	TaskID     string    `json:"task_id,omitempty"` // set for retry timers
	FireAt     time.Time `json:"fire_at"`
	Fired      bool      `json:"fired"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewTimer creates an unfired timer.
func NewTimer(exec *WorkflowExecution, stepName string, kind TimerKind, fireAt time.Time) *Timer {
	return &Timer{
		ID:         uuid.New().String(),
		Namespace:  exec.Namespace,
		WorkflowID: exec.ID,
		RunID:      exec.RunID,
		StepName:   stepName,
		Kind:       kind,
		FireAt:     fireAt.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
}

// Due reports whether the timer should fire at the given instant.
func (t *Timer) Due(now time.Time) bool {
	return !t.Fired && !now.Before(t.FireAt)
}
