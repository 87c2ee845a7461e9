package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(t *testing.T) *ActivityTask {
	t.Helper()
	exec, err := NewWorkflowExecution("default", "invoice", "default", "")
	require.NoError(t, err)
	return NewActivityTask(exec, "send_invoice", "send_email", "", `{"to":"x"}`, 1)
}

// =============================================================================
// Task Creation Tests
// =============================================================================

func TestNewActivityTask(t *testing.T) {
	task := newTestTask(t)

	assert.NotEmpty(t, task.ID)
	assert.NotEmpty(t, task.TaskToken)
	assert.NotEqual(t, task.ID, task.TaskToken)
	assert.Equal(t, "send_invoice", task.StepName)
	assert.Equal(t, "send_email", task.ActivityType)
	assert.Equal(t, "default", task.TaskQueue) // inherited from the execution
	assert.Equal(t, 1, task.Attempt)
	assert.Equal(t, TaskStatePending, task.State)
}

func TestNewActivityTask_ClampsAttempt(t *testing.T) {
	exec, err := NewWorkflowExecution("default", "invoice", "default", "")
	require.NoError(t, err)

	task := NewActivityTask(exec, "s", "a", "emails", "", 0)
	assert.Equal(t, 1, task.Attempt)
	assert.Equal(t, "emails", task.TaskQueue)
}

func TestNewTaskToken_Unique(t *testing.T) {
	assert.NotEqual(t, NewTaskToken(), NewTaskToken())
}

// =============================================================================
// Lease Tests
// =============================================================================

func TestLease(t *testing.T) {
	task := newTestTask(t)
	until := time.Now().UTC().Add(30 * time.Second)

	require.NoError(t, task.Lease(until))
	assert.Equal(t, TaskStateLeased, task.State)
	require.NotNil(t, task.LeaseExpires)
	assert.Equal(t, until, *task.LeaseExpires)

	// Only pending tasks can be leased.
	assert.ErrorIs(t, task.Lease(until), ErrInvalidTaskState)
}

func TestHeartbeat_ExtendsLease(t *testing.T) {
	task := newTestTask(t)
	require.NoError(t, task.Lease(time.Now().UTC().Add(time.Second)))

	later := time.Now().UTC().Add(time.Minute)
	require.NoError(t, task.Heartbeat(later))
	assert.Equal(t, later, *task.LeaseExpires)
	assert.NotNil(t, task.HeartbeatAt)
}

func TestHeartbeat_RequiresLease(t *testing.T) {
	task := newTestTask(t)
	assert.ErrorIs(t, task.Heartbeat(time.Now()), ErrTaskNotLeased)
}

// =============================================================================
// Finish Tests
// =============================================================================

func TestFinish(t *testing.T) {
	task := newTestTask(t)
	require.NoError(t, task.Lease(time.Now().Add(time.Second)))

	require.NoError(t, task.Finish(TaskStateCompleted, ""))
	assert.Equal(t, TaskStateCompleted, task.State)

	assert.ErrorIs(t, task.Finish(TaskStateFailed, "late"), ErrTaskAlreadyDone)
}

func TestFinish_RejectsNonTerminalState(t *testing.T) {
	task := newTestTask(t)
	assert.ErrorIs(t, task.Finish(TaskStateLeased, ""), ErrInvalidTaskState)
}

func TestTaskState_IsTerminal(t *testing.T) {
	assert.True(t, TaskStateCompleted.IsTerminal())
	assert.True(t, TaskStateFailed.IsTerminal())
	assert.True(t, TaskStateCanceled.IsTerminal())
	assert.False(t, TaskStatePending.IsTerminal())
	assert.False(t, TaskStateLeased.IsTerminal())
	assert.False(t, TaskStateBackoff.IsTerminal())
}

// =============================================================================
// Retry Requeue Tests
// =============================================================================

func TestRequeueForRetry_RotatesToken(t *testing.T) {
	task := newTestTask(t)
	require.NoError(t, task.Lease(time.Now().Add(time.Second)))
	oldToken := task.TaskToken

	task.RequeueForRetry()

	assert.Equal(t, 2, task.Attempt)
	assert.Equal(t, TaskStatePending, task.State)
	assert.NotEqual(t, oldToken, task.TaskToken)
	assert.Nil(t, task.LeasedAt)
	assert.Nil(t, task.LeaseExpires)
	assert.Nil(t, task.HeartbeatAt)
}
