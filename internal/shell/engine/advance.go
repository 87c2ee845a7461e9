package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/core/flowdef"
	"github.com/artpar/flowstack/internal/core/history"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Graph Advancement
// =============================================================================

// Advance replays the execution's history and schedules whatever the
// step graph says is ready. It is idempotent: the frontier excludes
// in-flight steps, so calling it twice schedules nothing twice.
func (s *Service) Advance(ctx context.Context, executionID string) error {
	exec, err := s.getExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsClosed() {
		return nil
	}

	def, err := s.loadDefinition(ctx, exec.Namespace, exec.Definition)
	if err != nil {
		return err
	}

	events, err := s.store.ListEvents(ctx, exec.RunID)
	if err != nil {
		return err
	}
	progress, err := history.Replay(events)
	if err != nil {
		return err
	}

	if progress.Closed {
		// History closed but the execution row lags, typically after a
		// crash between the append and the update. Catch the row up.
		if exec.Status != progress.Status {
			if err := exec.Close(progress.Status, exec.ErrorMessage); err != nil {
				return err
			}
			return s.store.UpdateExecution(ctx, exec)
		}
		return nil
	}

	inFlight := make(map[string]bool, len(progress.ScheduledSteps)+len(progress.PendingTimers))
	for name := range progress.ScheduledSteps {
		inFlight[name] = true
	}
	for name := range progress.PendingTimers {
		inFlight[name] = true
	}

	if flowdef.AllSettled(def, progress.CompletedSteps, progress.FailedSteps) && len(inFlight) == 0 {
		return s.closeSettled(ctx, exec, progress)
	}

	var notify []string
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		queues, err := s.scheduleFrontier(ctx, tx, exec, def, progress.CompletedSteps, progress.FailedSteps, inFlight)
		if err != nil {
			return err
		}
		notify = queues
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyQueues(notify)
	return nil
}

// closeSettled closes an execution whose every step reached an outcome.
func (s *Service) closeSettled(ctx context.Context, exec *domain.WorkflowExecution, progress *history.Progress) error {
	status := domain.StatusCompleted
	eventType := history.EventExecutionCompleted
	errorMessage := ""

	if len(progress.FailedSteps) > 0 {
		status = domain.StatusFailed
		eventType = history.EventExecutionFailed

		failed := make([]string, 0, len(progress.FailedSteps))
		for name := range progress.FailedSteps {
			failed = append(failed, name)
		}
		sort.Strings(failed)
		errorMessage = "steps failed: " + strings.Join(failed, ", ")
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		attrs := map[string]string{}
		if errorMessage != "" {
			attrs["error"] = errorMessage
		}
		if err := s.appendEvent(ctx, tx, exec, eventType, "", 0, attrs); err != nil {
			return err
		}
		if err := exec.Close(status, errorMessage); err != nil {
			return err
		}
		return tx.UpdateExecution(ctx, exec)
	})
	if err != nil {
		return err
	}

	s.logger.Info("workflow settled",
		"execution_id", exec.ID,
		"status", status,
	)
	return nil
}

// scheduleFrontier schedules every ready step: delayed steps get a
// durable delay timer, the rest get an activity task. Returns the task
// queues to notify after the transaction commits.
func (s *Service) scheduleFrontier(ctx context.Context, tx store.Store, exec *domain.WorkflowExecution, def *flowdef.Definition, completed, failed, inFlight map[string]bool) ([]string, error) {
	var notify []string

	for _, step := range flowdef.Frontier(def, completed, failed, inFlight) {
		if step.Delay > 0 {
			if err := s.appendEvent(ctx, tx, exec, history.EventTimerStarted, step.Name, 0, map[string]string{
				"delay": step.Delay.String(),
			}); err != nil {
				return nil, err
			}
			timer := domain.NewTimer(exec, step.Name, domain.TimerKindDelay, time.Now().UTC().Add(step.Delay))
			if err := tx.CreateTimer(ctx, timer); err != nil {
				return nil, err
			}
			continue
		}

		queue, err := s.scheduleStep(ctx, tx, exec, def, step, 1)
		if err != nil {
			return nil, err
		}
		notify = append(notify, queue)
	}

	return notify, nil
}

// scheduleStep appends activity_task_scheduled and creates the task.
func (s *Service) scheduleStep(ctx context.Context, tx store.Store, exec *domain.WorkflowExecution, def *flowdef.Definition, step flowdef.Step, attempt int) (string, error) {
	queue := def.QueueFor(step.Name)

	if err := s.appendEvent(ctx, tx, exec, history.EventActivityScheduled, step.Name, attempt, map[string]string{
		"activity":   step.Activity,
		"task_queue": queue,
	}); err != nil {
		return "", err
	}

	task := domain.NewActivityTask(exec, step.Name, step.Activity, queue, exec.Input, attempt)
	if err := tx.CreateTask(ctx, task); err != nil {
		return "", err
	}
	return queue, nil
}

// appendEvent allocates the next event ID inside the transaction and
// appends the event. The (run_id, event_id) uniqueness constraint makes
// concurrent appenders lose cleanly instead of forking the history.
func (s *Service) appendEvent(ctx context.Context, tx store.Store, exec *domain.WorkflowExecution, eventType history.EventType, stepName string, attempt int, attrs map[string]string) error {
	eventID, err := tx.NextEventID(ctx, exec.RunID)
	if err != nil {
		return err
	}

	return tx.AppendEvent(ctx, &history.Event{
		EventID:    eventID,
		WorkflowID: exec.ID,
		RunID:      exec.RunID,
		Type:       eventType,
		StepName:   stepName,
		Attempt:    attempt,
		Attributes: attrs,
		Timestamp:  time.Now().UTC(),
	})
}

// notifyQueues wakes pollers after a commit made new tasks visible.
func (s *Service) notifyQueues(queues []string) {
	if s.matcher == nil {
		return
	}
	seen := make(map[string]bool, len(queues))
	for _, q := range queues {
		if !seen[q] {
			seen[q] = true
			s.matcher.Notify(q)
		}
	}
}
