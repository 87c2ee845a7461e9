package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Namespace Tests
// =============================================================================

func TestNewNamespace_ValidNames(t *testing.T) {
	for _, name := range []string{"default", "billing", "team-a", "ns1", "a"} {
		ns, err := NewNamespace(name, "", 0)
		require.NoError(t, err, name)
		assert.Equal(t, name, ns.Name)
	}
}

func TestNewNamespace_InvalidNames(t *testing.T) {
	invalid := []string{
		"",
		"UPPER",
		"has space",
		"-leading",
		"trailing-",
		"dots.not.allowed",
		strings.Repeat("a", 64),
	}
	for _, name := range invalid {
		_, err := NewNamespace(name, "", 0)
		assert.ErrorIs(t, err, ErrInvalidNamespaceName, name)
	}
}

func TestNewNamespace_DefaultRetention(t *testing.T) {
	ns, err := NewNamespace("billing", "invoices", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, ns.RetentionDays)

	ns, err = NewNamespace("billing", "", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, ns.RetentionDays)
}

// =============================================================================
// Timer Tests
// =============================================================================

func TestTimer_Due(t *testing.T) {
	exec, err := NewWorkflowExecution("default", "invoice", "default", "")
	require.NoError(t, err)

	now := time.Now().UTC()
	timer := NewTimer(exec, "send_invoice", TimerKindDelay, now.Add(time.Minute))

	assert.False(t, timer.Due(now))
	assert.True(t, timer.Due(now.Add(time.Minute)))
	assert.True(t, timer.Due(now.Add(2*time.Minute)))

	timer.Fired = true
	assert.False(t, timer.Due(now.Add(2*time.Minute)))
}

func TestNewTimer_CarriesExecutionIdentity(t *testing.T) {
	exec, err := NewWorkflowExecution("billing", "invoice", "default", "")
	require.NoError(t, err)

	timer := NewTimer(exec, "send_invoice", TimerKindRetry, time.Now())
	assert.Equal(t, exec.ID, timer.WorkflowID)
	assert.Equal(t, exec.RunID, timer.RunID)
	assert.Equal(t, "billing", timer.Namespace)
	assert.Equal(t, TimerKindRetry, timer.Kind)
	assert.False(t, timer.Fired)
}
