// Package engine drives workflow executions. This is part of the
// Imperative Shell - it appends history, persists state transitions and
// hands tasks to the matcher, while all progress decisions come from
// replaying history through the pure core packages.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/core/flowdef"
	"github.com/artpar/flowstack/internal/core/history"
	"github.com/artpar/flowstack/internal/core/retry"
	"github.com/artpar/flowstack/internal/shell/matcher"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Engine Service
// =============================================================================

// Service orchestrates workflow executions end to end: starting runs,
// applying task outcomes, firing timers and advancing the step graph.
type Service struct {
	store   store.Store
	matcher *matcher.Service
	logger  *slog.Logger
}

// NewService creates an engine service.
func NewService(s store.Store, m *matcher.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   s,
		matcher: m,
		logger:  logger.With("component", "engine"),
	}
}

// =============================================================================
// Definitions
// =============================================================================

// RegisterDefinition parses, validates and stores an HCL workflow
// definition. The name comes from the workflow block label; registering
// the same name again replaces the stored source for future runs.
func (s *Service) RegisterDefinition(ctx context.Context, namespace, filename, source string) (*flowdef.Definition, error) {
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}

	def, err := flowdef.ParseDefinition(filename, []byte(source))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &store.DefinitionRecord{
		Namespace: namespace,
		Name:      def.Name,
		Source:    source,
		TaskQueue: def.TaskQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutDefinition(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("workflow definition registered",
		"namespace", namespace,
		"name", def.Name,
		"steps", len(def.Steps),
	)
	return def, nil
}

// loadDefinition fetches and re-parses the stored source for an execution.
func (s *Service) loadDefinition(ctx context.Context, namespace, name string) (*flowdef.Definition, error) {
	record, err := s.store.GetDefinition(ctx, namespace, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrDefinitionNotFound, namespace, name)
		}
		return nil, err
	}
	return flowdef.ParseDefinition(record.Name+".hcl", []byte(record.Source))
}

// =============================================================================
// Start Workflow
// =============================================================================

// StartWorkflow creates a new execution of a registered definition,
// appends execution_started and schedules the initial step frontier.
func (s *Service) StartWorkflow(ctx context.Context, namespace, definitionName, input string) (*domain.WorkflowExecution, error) {
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}

	def, err := s.loadDefinition(ctx, namespace, definitionName)
	if err != nil {
		return nil, err
	}

	exec, err := domain.NewWorkflowExecution(namespace, definitionName, def.TaskQueue, input)
	if err != nil {
		return nil, err
	}

	var notify []string
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateExecution(ctx, exec); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, exec, history.EventExecutionStarted, "", 0, map[string]string{
			"definition": definitionName,
		}); err != nil {
			return err
		}
		if err := exec.Transition(domain.StatusRunning); err != nil {
			return err
		}
		if err := tx.UpdateExecution(ctx, exec); err != nil {
			return err
		}

		queues, err := s.scheduleFrontier(ctx, tx, exec, def, map[string]bool{}, map[string]bool{}, map[string]bool{})
		if err != nil {
			return err
		}
		notify = queues
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyQueues(notify)
	s.logger.Info("workflow started",
		"execution_id", exec.ID,
		"run_id", exec.RunID,
		"namespace", namespace,
		"definition", definitionName,
	)
	return exec, nil
}

// =============================================================================
// Task Outcomes
// =============================================================================

// OnTaskStarted records that a worker picked up a leased task.
func (s *Service) OnTaskStarted(ctx context.Context, task *domain.ActivityTask) error {
	exec, err := s.getExecution(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx store.Store) error {
		return s.appendEvent(ctx, tx, exec, history.EventActivityStarted, task.StepName, task.Attempt, nil)
	})
}

// CompleteActivityTask applies a successful activity result identified
// by its task token, then advances the step graph.
func (s *Service) CompleteActivityTask(ctx context.Context, taskToken, result string) error {
	task, err := s.currentTask(ctx, taskToken)
	if err != nil {
		return err
	}

	exec, err := s.getExecution(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	if exec.Status.IsClosed() {
		return ErrExecutionClosed
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		attrs := map[string]string{}
		if result != "" {
			attrs["result"] = result
		}
		if err := s.appendEvent(ctx, tx, exec, history.EventActivityCompleted, task.StepName, task.Attempt, attrs); err != nil {
			return err
		}
		if err := task.Finish(domain.TaskStateCompleted, ""); err != nil {
			return err
		}
		return tx.UpdateTask(ctx, task)
	})
	if err != nil {
		return err
	}

	s.logger.Info("activity completed",
		"execution_id", exec.ID,
		"step", task.StepName,
		"attempt", task.Attempt,
	)
	return s.Advance(ctx, exec.ID)
}

// FailActivityTask applies a failed activity attempt. Retryable
// failures put the task into backoff behind a durable retry timer;
// terminal failures mark the step failed and advance the graph, which
// may close the whole execution.
func (s *Service) FailActivityTask(ctx context.Context, taskToken, errorType, errorMessage string) error {
	task, err := s.currentTask(ctx, taskToken)
	if err != nil {
		return err
	}

	exec, err := s.getExecution(ctx, task.WorkflowID)
	if err != nil {
		return err
	}
	if exec.Status.IsClosed() {
		return ErrExecutionClosed
	}

	def, err := s.loadDefinition(ctx, exec.Namespace, exec.Definition)
	if err != nil {
		return err
	}

	policy := def.RetryPolicyFor(task.StepName)
	decision := retry.Evaluate(policy, task.Attempt, errorType)

	if decision.Retry {
		fireAt := time.Now().UTC().Add(decision.Delay)
		err = s.store.WithTx(ctx, func(tx store.Store) error {
			if err := s.appendEvent(ctx, tx, exec, history.EventActivityFailed, task.StepName, task.Attempt, map[string]string{
				"error_type": errorType,
				"error":      errorMessage,
			}); err != nil {
				return err
			}
			task.State = domain.TaskStateBackoff
			task.ErrorMessage = errorMessage
			task.UpdatedAt = time.Now().UTC()
			if err := tx.UpdateTask(ctx, task); err != nil {
				return err
			}

			timer := domain.NewTimer(exec, task.StepName, domain.TimerKindRetry, fireAt)
			timer.TaskID = task.ID
			return tx.CreateTimer(ctx, timer)
		})
		if err != nil {
			return err
		}

		s.logger.Info("activity attempt failed, retry scheduled",
			"execution_id", exec.ID,
			"step", task.StepName,
			"attempt", task.Attempt,
			"backoff", decision.Delay,
		)
		return nil
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := s.appendEvent(ctx, tx, exec, history.EventActivityFailed, task.StepName, task.Attempt, map[string]string{
			"error_type": errorType,
			"error":      errorMessage,
			"reason":     decision.Reason,
			"final":      "true",
		}); err != nil {
			return err
		}
		if err := task.Finish(domain.TaskStateFailed, errorMessage); err != nil {
			return err
		}
		return tx.UpdateTask(ctx, task)
	})
	if err != nil {
		return err
	}

	s.logger.Warn("activity failed terminally",
		"execution_id", exec.ID,
		"step", task.StepName,
		"attempt", task.Attempt,
		"reason", decision.Reason,
	)
	return s.Advance(ctx, exec.ID)
}

// currentTask resolves a token to its task and rejects stale tokens.
func (s *Service) currentTask(ctx context.Context, taskToken string) (*domain.ActivityTask, error) {
	task, err := s.store.GetTaskByToken(ctx, taskToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Tokens are rotated on retry, so a missing token means the
			// attempt it named has been superseded.
			return nil, ErrStaleTaskToken
		}
		return nil, err
	}
	if task.State != domain.TaskStateLeased {
		return nil, ErrStaleTaskToken
	}
	return task, nil
}

// =============================================================================
// Signals and Cancellation
// =============================================================================

// SignalWorkflow appends a named signal to an open execution's history.
func (s *Service) SignalWorkflow(ctx context.Context, executionID, name, payload string) error {
	exec, err := s.getExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsClosed() {
		return ErrExecutionClosed
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		attrs := map[string]string{"name": name}
		if payload != "" {
			attrs["payload"] = payload
		}
		return s.appendEvent(ctx, tx, exec, history.EventSignalReceived, "", 0, attrs)
	})
}

// CancelWorkflow closes an open execution as canceled and cancels its
// outstanding tasks. In-flight workers learn of the cancellation when
// their completion is rejected.
func (s *Service) CancelWorkflow(ctx context.Context, executionID, reason string) error {
	return s.closeExecution(ctx, executionID, domain.StatusCanceled, history.EventExecutionCanceled, reason)
}

// TerminateWorkflow force-closes an open execution. Unlike cancel,
// terminate carries no cooperative meaning; it is the operator's hard stop.
func (s *Service) TerminateWorkflow(ctx context.Context, executionID, reason string) error {
	return s.closeExecution(ctx, executionID, domain.StatusTerminated, history.EventExecutionTerminated, reason)
}

func (s *Service) closeExecution(ctx context.Context, executionID string, status domain.WorkflowStatus, eventType history.EventType, reason string) error {
	exec, err := s.getExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsClosed() {
		return ErrExecutionClosed
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		attrs := map[string]string{}
		if reason != "" {
			attrs["reason"] = reason
		}
		if err := s.appendEvent(ctx, tx, exec, eventType, "", 0, attrs); err != nil {
			return err
		}
		if err := exec.Close(status, reason); err != nil {
			return err
		}
		if err := tx.UpdateExecution(ctx, exec); err != nil {
			return err
		}
		return cancelOpenTasks(ctx, tx, exec.RunID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("workflow closed",
		"execution_id", exec.ID,
		"status", status,
		"reason", reason,
	)
	return nil
}

// cancelOpenTasks moves every non-terminal task of a run to canceled.
func cancelOpenTasks(ctx context.Context, tx store.Store, runID string) error {
	tasks, err := tx.ListTasksByRun(ctx, runID)
	if err != nil {
		return err
	}
	for i := range tasks {
		task := &tasks[i]
		if task.State.IsTerminal() {
			continue
		}
		if err := task.Finish(domain.TaskStateCanceled, ""); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Timers
// =============================================================================

// OnTimerFired applies one due timer: retry timers requeue their task
// with a fresh token, delay timers schedule the delayed step's first
// task. Firing is transactional with the resulting history append, so a
// crash between the two cannot lose the step.
func (s *Service) OnTimerFired(ctx context.Context, timer *domain.Timer) error {
	exec, err := s.getExecution(ctx, timer.WorkflowID)
	if err != nil {
		return err
	}

	if exec.Status.IsClosed() {
		// The run closed while the timer was pending; retire the timer.
		return s.store.MarkTimerFired(ctx, timer.ID)
	}

	var notify []string
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.MarkTimerFired(ctx, timer.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Another tick already fired it.
				return nil
			}
			return err
		}

		switch timer.Kind {
		case domain.TimerKindRetry:
			task, err := tx.GetTask(ctx, timer.TaskID)
			if err != nil {
				return err
			}
			if task.State != domain.TaskStateBackoff {
				return nil
			}
			task.RequeueForRetry()
			if err := tx.UpdateTask(ctx, task); err != nil {
				return err
			}
			notify = append(notify, task.TaskQueue)
			return nil

		case domain.TimerKindDelay:
			if err := s.appendEvent(ctx, tx, exec, history.EventTimerFired, timer.StepName, 0, nil); err != nil {
				return err
			}
			def, err := s.loadDefinition(ctx, exec.Namespace, exec.Definition)
			if err != nil {
				return err
			}
			step, ok := def.StepByName(timer.StepName)
			if !ok {
				return fmt.Errorf("delay timer names unknown step %q", timer.StepName)
			}
			queue, err := s.scheduleStep(ctx, tx, exec, def, step, 1)
			if err != nil {
				return err
			}
			notify = append(notify, queue)
			return nil

		default:
			return fmt.Errorf("unknown timer kind %q", timer.Kind)
		}
	})
	if err != nil {
		return err
	}

	s.notifyQueues(notify)
	return nil
}

// =============================================================================
// Lease Reclaim
// =============================================================================

// OnLeaseExpired handles a task whose worker stopped heartbeating. The
// expiry is treated as a retryable failure of the attempt.
func (s *Service) OnLeaseExpired(ctx context.Context, task *domain.ActivityTask) error {
	// Re-read under the current token; a late completion may have won.
	current, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if current.State != domain.TaskStateLeased || current.TaskToken != task.TaskToken {
		return nil
	}

	s.logger.Warn("task lease expired",
		"task_id", task.ID,
		"execution_id", task.WorkflowID,
		"step", task.StepName,
		"attempt", task.Attempt,
	)
	return s.FailActivityTask(ctx, task.TaskToken, "lease_expired", "worker lease expired without completion")
}

// =============================================================================
// Queries
// =============================================================================

// ExecutionState is an execution together with its replayed progress.
type ExecutionState struct {
	Execution *domain.WorkflowExecution
	Progress  *history.Progress
	Events    []history.Event
}

// DescribeExecution returns an execution with its history-derived state.
func (s *Service) DescribeExecution(ctx context.Context, executionID string) (*ExecutionState, error) {
	exec, err := s.getExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	events, err := s.store.ListEvents(ctx, exec.RunID)
	if err != nil {
		return nil, err
	}

	progress, err := history.Replay(events)
	if err != nil {
		return nil, err
	}

	return &ExecutionState{
		Execution: exec,
		Progress:  progress,
		Events:    events,
	}, nil
}

func (s *Service) getExecution(ctx context.Context, executionID string) (*domain.WorkflowExecution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
		}
		return nil, err
	}
	return exec, nil
}

// =============================================================================
// Recovery
// =============================================================================

// Recover advances every open execution. Called once at startup so runs
// interrupted by a crash pick up exactly where their history left off.
func (s *Service) Recover(ctx context.Context) error {
	open, err := s.store.ListOpenExecutions(ctx)
	if err != nil {
		return err
	}

	for i := range open {
		exec := &open[i]
		if err := s.Advance(ctx, exec.ID); err != nil {
			s.logger.Error("recovery failed for execution",
				"execution_id", exec.ID,
				"error", err,
			)
			continue
		}
	}

	if len(open) > 0 {
		s.logger.Info("recovered open executions", "count", len(open))
	}
	return nil
}
