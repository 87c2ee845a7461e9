// Package history models the append-only event history of a workflow
// execution. The history is the source of truth: execution progress is
// always derived by replaying events, never read from mutable state.
// This is part of the Functional Core - all functions are pure with no I/O.
package history

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNonContiguousEventID = errors.New("event ID must be contiguous")
	ErrHistoryClosed        = errors.New("history is closed")
	ErrFirstEventNotStart   = errors.New("first event must be execution_started")
	ErrUnknownEventType     = errors.New("unknown event type")
)

// =============================================================================
// Event Types
// =============================================================================

// EventType identifies what happened at one point of an execution.
type EventType string

const (
	EventExecutionStarted    EventType = "execution_started"
	EventActivityScheduled   EventType = "activity_task_scheduled"
	EventActivityStarted     EventType = "activity_task_started"
	EventActivityCompleted   EventType = "activity_task_completed"
	EventActivityFailed      EventType = "activity_task_failed"
	EventTimerStarted        EventType = "timer_started"
	EventTimerFired          EventType = "timer_fired"
	EventSignalReceived      EventType = "signal_received"
	EventExecutionCompleted  EventType = "execution_completed"
	EventExecutionFailed     EventType = "execution_failed"
	EventExecutionCanceled   EventType = "execution_canceled"
	EventExecutionTerminated EventType = "execution_terminated"
)

// knownEventTypes is the closed set accepted by Append.
var knownEventTypes = map[EventType]bool{
	EventExecutionStarted:    true,
	EventActivityScheduled:   true,
	EventActivityStarted:     true,
	EventActivityCompleted:   true,
	EventActivityFailed:      true,
	EventTimerStarted:        true,
	EventTimerFired:          true,
	EventSignalReceived:      true,
	EventExecutionCompleted:  true,
	EventExecutionFailed:     true,
	EventExecutionCanceled:   true,
	EventExecutionTerminated: true,
}

// IsCloseEvent reports whether the event type closes the history.
func IsCloseEvent(t EventType) bool {
	switch t {
	case EventExecutionCompleted, EventExecutionFailed, EventExecutionCanceled, EventExecutionTerminated:
		return true
	default:
		return false
	}
}

// =============================================================================
// Event
// =============================================================================

// Event is one immutable entry of an execution history. EventID is a
// per-run sequence starting at 1 with no gaps.
type Event struct {
	EventID    int64             `json:"event_id"`
	WorkflowID string            `json:"workflow_id"`
	RunID      string            `json:"run_id"`
	Type       EventType         `json:"type"`
	StepName   string            `json:"step_name,omitempty"`
	Attempt    int               `json:"attempt,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// =============================================================================
// Append Validation
// =============================================================================

// ValidateAppend checks whether event may follow the given history.
// Rules:
//   - event IDs are contiguous starting at 1
//   - the first event is execution_started
//   - nothing may follow a close event
func ValidateAppend(events []Event, event Event) error {
	if !knownEventTypes[event.Type] {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}

	if len(events) == 0 {
		if event.Type != EventExecutionStarted {
			return ErrFirstEventNotStart
		}
		if event.EventID != 1 {
			return ErrNonContiguousEventID
		}
		return nil
	}

	last := events[len(events)-1]
	if IsCloseEvent(last.Type) {
		return ErrHistoryClosed
	}
	if event.EventID != last.EventID+1 {
		return ErrNonContiguousEventID
	}
	return nil
}
