package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/flowstack/internal/core/domain"
)

// ev builds a history event with auto-assigned contiguous IDs in tests.
func ev(id int64, t EventType, step string, attrs map[string]string) Event {
	return Event{
		EventID:    id,
		WorkflowID: "wf-1",
		RunID:      "run-1",
		Type:       t,
		StepName:   step,
		Attributes: attrs,
	}
}

// =============================================================================
// Append Validation Tests
// =============================================================================

func TestValidateAppend_FirstEventMustBeStart(t *testing.T) {
	err := ValidateAppend(nil, ev(1, EventActivityScheduled, "a", nil))
	assert.ErrorIs(t, err, ErrFirstEventNotStart)

	assert.NoError(t, ValidateAppend(nil, ev(1, EventExecutionStarted, "", nil)))
}

func TestValidateAppend_FirstEventIDIsOne(t *testing.T) {
	err := ValidateAppend(nil, ev(5, EventExecutionStarted, "", nil))
	assert.ErrorIs(t, err, ErrNonContiguousEventID)
}

func TestValidateAppend_ContiguousIDs(t *testing.T) {
	events := []Event{ev(1, EventExecutionStarted, "", nil)}

	assert.NoError(t, ValidateAppend(events, ev(2, EventActivityScheduled, "a", nil)))
	assert.ErrorIs(t, ValidateAppend(events, ev(4, EventActivityScheduled, "a", nil)), ErrNonContiguousEventID)
	assert.ErrorIs(t, ValidateAppend(events, ev(1, EventActivityScheduled, "a", nil)), ErrNonContiguousEventID)
}

func TestValidateAppend_NothingAfterClose(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventExecutionCompleted, "", nil),
	}

	err := ValidateAppend(events, ev(3, EventSignalReceived, "", nil))
	assert.ErrorIs(t, err, ErrHistoryClosed)
}

func TestValidateAppend_UnknownType(t *testing.T) {
	err := ValidateAppend(nil, ev(1, EventType("made_up"), "", nil))
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

// =============================================================================
// Replay Tests
// =============================================================================

func TestReplay_EmptyHistory(t *testing.T) {
	p, err := Replay(nil)
	require.NoError(t, err)

	assert.False(t, p.Started)
	assert.False(t, p.Closed)
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.False(t, p.InFlight())
}

func TestReplay_CompletedStep(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventActivityScheduled, "send_invoice", nil),
		ev(3, EventActivityStarted, "send_invoice", nil),
		ev(4, EventActivityCompleted, "send_invoice", nil),
	}

	p, err := Replay(events)
	require.NoError(t, err)

	assert.True(t, p.Started)
	assert.Equal(t, domain.StatusRunning, p.Status)
	assert.True(t, p.CompletedSteps["send_invoice"])
	assert.NotContains(t, p.ScheduledSteps, "send_invoice")
	assert.False(t, p.InFlight())
}

func TestReplay_RetryableFailureStaysScheduled(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventActivityScheduled, "send_invoice", nil),
		ev(3, EventActivityFailed, "send_invoice", map[string]string{"error_type": "timeout"}),
	}

	p, err := Replay(events)
	require.NoError(t, err)

	assert.Contains(t, p.ScheduledSteps, "send_invoice")
	assert.False(t, p.FailedSteps["send_invoice"])
	assert.True(t, p.InFlight())
}

func TestReplay_FinalFailureMarksStepFailed(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventActivityScheduled, "send_invoice", nil),
		ev(3, EventActivityFailed, "send_invoice", map[string]string{"final": "true"}),
	}

	p, err := Replay(events)
	require.NoError(t, err)

	assert.True(t, p.FailedSteps["send_invoice"])
	assert.NotContains(t, p.ScheduledSteps, "send_invoice")
}

func TestReplay_TimerLifecycle(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventTimerStarted, "delayed_step", nil),
	}

	p, err := Replay(events)
	require.NoError(t, err)
	assert.True(t, p.PendingTimers["delayed_step"])
	assert.True(t, p.InFlight())

	events = append(events, ev(3, EventTimerFired, "delayed_step", nil))
	p, err = Replay(events)
	require.NoError(t, err)
	assert.NotContains(t, p.PendingTimers, "delayed_step")
}

func TestReplay_SignalsInArrivalOrder(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventSignalReceived, "", map[string]string{"name": "approve"}),
		ev(3, EventSignalReceived, "", map[string]string{"name": "remind"}),
	}

	p, err := Replay(events)
	require.NoError(t, err)
	assert.Equal(t, []string{"approve", "remind"}, p.Signals)
}

func TestReplay_CloseEvents(t *testing.T) {
	cases := []struct {
		event  EventType
		status domain.WorkflowStatus
	}{
		{EventExecutionCompleted, domain.StatusCompleted},
		{EventExecutionFailed, domain.StatusFailed},
		{EventExecutionCanceled, domain.StatusCanceled},
		{EventExecutionTerminated, domain.StatusTerminated},
	}

	for _, tc := range cases {
		events := []Event{
			ev(1, EventExecutionStarted, "", nil),
			ev(2, tc.event, "", nil),
		}
		p, err := Replay(events)
		require.NoError(t, err, string(tc.event))
		assert.True(t, p.Closed)
		assert.Equal(t, tc.status, p.Status)
	}
}

func TestReplay_RejectsEventsAfterClose(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventExecutionCompleted, "", nil),
		ev(3, EventSignalReceived, "", map[string]string{"name": "late"}),
	}

	_, err := Replay(events)
	assert.Error(t, err)
}

func TestReplay_RejectsDuplicateStart(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventExecutionStarted, "", nil),
	}

	_, err := Replay(events)
	assert.Error(t, err)
}

func TestReplay_LatestAttemptWins(t *testing.T) {
	events := []Event{
		ev(1, EventExecutionStarted, "", nil),
		ev(2, EventActivityScheduled, "send_invoice", nil),
		ev(3, EventActivityFailed, "send_invoice", nil),
	}
	events[1].Attempt = 1

	retried := ev(4, EventActivityScheduled, "send_invoice", nil)
	retried.Attempt = 2
	events = append(events, retried)

	p, err := Replay(events)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ScheduledSteps["send_invoice"])
}
