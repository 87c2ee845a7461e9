package history

import (
	"fmt"

	"github.com/artpar/flowstack/internal/core/domain"
)

// =============================================================================
// Replay
// =============================================================================

// Progress is the execution state reconstructed by folding a history.
// It is everything the engine needs to decide what to schedule next.
type Progress struct {
	// Started reports whether execution_started has been seen.
	Started bool

	// CompletedSteps holds steps whose activity completed successfully.
	CompletedSteps map[string]bool

	// FailedSteps holds steps whose retries were exhausted.
	FailedSteps map[string]bool

	// ScheduledSteps holds steps with a scheduled (not yet terminal)
	// activity task or pending timer, keyed to the latest attempt seen.
	ScheduledSteps map[string]int

	// PendingTimers holds steps with a started, unfired timer.
	PendingTimers map[string]bool

	// Signals lists received signal names in arrival order.
	Signals []string

	// Closed reports whether a close event has been seen.
	Closed bool

	// Status is the terminal status implied by the close event, or
	// running/pending otherwise.
	Status domain.WorkflowStatus
}

// newProgress returns an empty progress.
func newProgress() *Progress {
	return &Progress{
		CompletedSteps: make(map[string]bool),
		FailedSteps:    make(map[string]bool),
		ScheduledSteps: make(map[string]int),
		PendingTimers:  make(map[string]bool),
		Status:         domain.StatusPending,
	}
}

// Replay folds an ordered event history into a Progress. The history
// must already be valid (contiguous IDs, started first); Replay rejects
// structurally impossible sequences it cannot fold.
func Replay(events []Event) (*Progress, error) {
	p := newProgress()

	for i := range events {
		e := &events[i]

		if p.Closed {
			return nil, fmt.Errorf("event %d follows a close event", e.EventID)
		}

		switch e.Type {
		case EventExecutionStarted:
			if p.Started {
				return nil, fmt.Errorf("duplicate execution_started at event %d", e.EventID)
			}
			p.Started = true
			p.Status = domain.StatusRunning

		case EventActivityScheduled:
			p.ScheduledSteps[e.StepName] = e.Attempt

		case EventActivityStarted:
			// Informational; the step remains scheduled.

		case EventActivityCompleted:
			delete(p.ScheduledSteps, e.StepName)
			p.CompletedSteps[e.StepName] = true

		case EventActivityFailed:
			// A failed attempt stays scheduled while retries remain;
			// the terminal failure is flagged in the attributes.
			if e.Attributes["final"] == "true" {
				delete(p.ScheduledSteps, e.StepName)
				p.FailedSteps[e.StepName] = true
			}

		case EventTimerStarted:
			p.PendingTimers[e.StepName] = true

		case EventTimerFired:
			delete(p.PendingTimers, e.StepName)

		case EventSignalReceived:
			p.Signals = append(p.Signals, e.Attributes["name"])

		case EventExecutionCompleted:
			p.Closed = true
			p.Status = domain.StatusCompleted

		case EventExecutionFailed:
			p.Closed = true
			p.Status = domain.StatusFailed

		case EventExecutionCanceled:
			p.Closed = true
			p.Status = domain.StatusCanceled

		case EventExecutionTerminated:
			p.Closed = true
			p.Status = domain.StatusTerminated

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, e.Type)
		}
	}

	return p, nil
}

// InFlight reports whether any step has a scheduled task or pending timer.
func (p *Progress) InFlight() bool {
	return len(p.ScheduledSteps) > 0 || len(p.PendingTimers) > 0
}
