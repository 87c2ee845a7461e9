package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func launchedStack(t *testing.T) *Stack {
	t.Helper()
	st := NewStack("dev", "services: {}", nil)
	require.NoError(t, st.Transition(StackStatusLaunching))
	require.NoError(t, st.Transition(StackStatusRunning))
	return st
}

// =============================================================================
// Stack Creation Tests
// =============================================================================

func TestNewStack(t *testing.T) {
	st := NewStack("dev", "services: {}", map[string]string{"TAG": "1.0"})

	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "dev", st.Name)
	assert.Equal(t, StackStatusCreated, st.Status)
	assert.Equal(t, "1.0", st.Variables["TAG"])
	assert.Nil(t, st.LaunchedAt)
	assert.Nil(t, st.StoppedAt)
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestStackTransition_LaunchPath(t *testing.T) {
	st := launchedStack(t)
	assert.Equal(t, StackStatusRunning, st.Status)
	assert.NotNil(t, st.LaunchedAt)
}

func TestStackTransition_CreatedCannotRun(t *testing.T) {
	st := NewStack("dev", "services: {}", nil)
	assert.ErrorIs(t, st.Transition(StackStatusRunning), ErrInvalidStackTransition)
}

func TestStackTransition_StopPathSetsStoppedAt(t *testing.T) {
	st := launchedStack(t)

	require.NoError(t, st.Transition(StackStatusStopping))
	require.NoError(t, st.Transition(StackStatusStopped))
	assert.NotNil(t, st.StoppedAt)
}

func TestStackTransition_StoppedCanRelaunch(t *testing.T) {
	st := launchedStack(t)
	require.NoError(t, st.Transition(StackStatusStopping))
	require.NoError(t, st.Transition(StackStatusStopped))

	assert.NoError(t, st.Transition(StackStatusLaunching))
}

func TestStackTransition_DegradeAndRecover(t *testing.T) {
	st := launchedStack(t)

	require.NoError(t, st.Transition(StackStatusDegraded))
	st.ErrorMessage = "services not running: db"

	// Recovering to Running clears the degradation message.
	require.NoError(t, st.Transition(StackStatusRunning))
	assert.Empty(t, st.ErrorMessage)
}

func TestStackTransition_FailedKeepsErrorMessage(t *testing.T) {
	st := launchedStack(t)
	st.ErrorMessage = "pull failed"

	require.NoError(t, st.Transition(StackStatusFailed))
	assert.Equal(t, "pull failed", st.ErrorMessage)

	// Failed stacks can be relaunched.
	assert.NoError(t, st.Transition(StackStatusLaunching))
}

func TestStackTransition_RelaunchKeepsFirstLaunchedAt(t *testing.T) {
	st := launchedStack(t)
	first := *st.LaunchedAt

	require.NoError(t, st.Transition(StackStatusStopping))
	require.NoError(t, st.Transition(StackStatusStopped))
	require.NoError(t, st.Transition(StackStatusLaunching))
	require.NoError(t, st.Transition(StackStatusRunning))

	assert.Equal(t, first, *st.LaunchedAt)
}
