// Package matcher hands activity tasks to polling workers. This is part
// of the Imperative Shell - it owns the long-poll parking and calls the
// store for the actual lease.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/shell/dynamicconfig"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Service Errors
// =============================================================================

var (
	// ErrTaskNotLeased is returned when a heartbeat arrives for a task
	// that is no longer leased.
	ErrTaskNotLeased = errors.New("task is not leased")

	// ErrUnknownTaskToken is returned when no task matches the token.
	ErrUnknownTaskToken = errors.New("unknown task token")
)

// =============================================================================
// Matcher Service
// =============================================================================

// Service matches pending activity tasks to polling workers.
type Service struct {
	store  store.Store
	cfg    *dynamicconfig.Config
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewService creates a matcher service.
func NewService(s store.Store, cfg *dynamicconfig.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   s,
		cfg:     cfg,
		logger:  logger.With("component", "matcher"),
		waiters: make(map[string][]chan struct{}),
	}
}

// =============================================================================
// Enqueue / Notify
// =============================================================================

// Enqueue persists a new pending task and wakes one poller on its queue.
func (s *Service) Enqueue(ctx context.Context, task *domain.ActivityTask) error {
	if err := s.store.CreateTask(ctx, task); err != nil {
		return err
	}

	s.logger.Debug("task enqueued",
		"task_id", task.ID,
		"task_queue", task.TaskQueue,
		"step", task.StepName,
		"attempt", task.Attempt,
	)

	s.Notify(task.TaskQueue)
	return nil
}

// Notify wakes one parked poller on the queue. Called after a task
// becomes pending again through a retry timer or a reclaimed lease.
func (s *Service) Notify(taskQueue string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.waiters[taskQueue]
	if len(queue) == 0 {
		return
	}

	// Pop one waiter; the rest keep waiting for further tasks.
	ch := queue[0]
	s.waiters[taskQueue] = queue[1:]
	close(ch)
}

// =============================================================================
// Poll
// =============================================================================

// Poll leases the oldest pending task on the queue. When the queue is
// empty the call parks until a task arrives or the poll timeout passes,
// then returns (nil, nil) so the worker can poll again.
func (s *Service) Poll(ctx context.Context, taskQueue string) (*domain.ActivityTask, error) {
	deadline := time.Now().Add(s.cfg.TaskPollTimeout())

	for {
		// Register before leasing so an Enqueue racing with an empty
		// lease result cannot be missed.
		wait := s.addWaiter(taskQueue)

		task, err := s.store.LeaseNextTask(ctx, taskQueue, time.Now().Add(s.cfg.TaskLeaseDuration()))
		if err == nil {
			s.removeWaiter(taskQueue, wait)
			s.logger.Debug("task leased",
				"task_id", task.ID,
				"task_queue", taskQueue,
				"attempt", task.Attempt,
			)
			return task, nil
		}
		if !errors.Is(err, store.ErrNoTask) {
			s.removeWaiter(taskQueue, wait)
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.removeWaiter(taskQueue, wait)
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.removeWaiter(taskQueue, wait)
			return nil, ctx.Err()
		case <-timer.C:
			s.removeWaiter(taskQueue, wait)
			return nil, nil
		case <-wait:
			timer.Stop()
			// Woken by an enqueue; loop and try the lease again.
		}
	}
}

func (s *Service) addWaiter(taskQueue string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters[taskQueue] = append(s.waiters[taskQueue], ch)
	s.mu.Unlock()
	return ch
}

func (s *Service) removeWaiter(taskQueue string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.waiters[taskQueue]
	for i, w := range queue {
		if w == ch {
			s.waiters[taskQueue] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// =============================================================================
// Heartbeat
// =============================================================================

// Heartbeat extends the lease of a running task, identified by its
// token. Workers heartbeat long activities so the reaper does not
// reclaim them mid-flight.
func (s *Service) Heartbeat(ctx context.Context, taskToken string) (*domain.ActivityTask, error) {
	task, err := s.store.GetTaskByToken(ctx, taskToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownTaskToken
		}
		return nil, err
	}

	if err := task.Heartbeat(time.Now().Add(s.cfg.TaskLeaseDuration())); err != nil {
		return nil, ErrTaskNotLeased
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	return task, nil
}
