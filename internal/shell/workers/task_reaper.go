package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/flowstack/internal/shell/dynamicconfig"
	"github.com/artpar/flowstack/internal/shell/engine"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Task Reaper
// =============================================================================

// TaskReaper reclaims tasks whose worker lease expired without a
// heartbeat. Each reclaimed task goes through the normal retry path, so
// a crashed worker's attempt counts like any other failure.
type TaskReaper struct {
	store  store.Store
	engine *engine.Service
	cfg    *dynamicconfig.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTaskReaper creates a task reaper.
func NewTaskReaper(s store.Store, e *engine.Service, cfg *dynamicconfig.Config, logger *slog.Logger) *TaskReaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskReaper{
		store:  s,
		engine: e,
		cfg:    cfg,
		logger: logger.With("component", "task_reaper"),
	}
}

// Start begins the reaper background goroutine.
func (r *TaskReaper) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("task reaper started", "interval", r.cfg.ReaperInterval())
}

// Stop gracefully stops the reaper.
func (r *TaskReaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("task reaper stopped")
}

// run is the main loop reclaiming expired leases.
func (r *TaskReaper) run() {
	defer r.wg.Done()

	r.runCycle()

	ticker := time.NewTicker(r.cfg.ReaperInterval())
	defer ticker.Stop()

	// Re-arm on config reload so a shortened interval applies without
	// waiting out the old one.
	reload := r.cfg.Subscribe()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-reload:
			ticker.Reset(r.cfg.ReaperInterval())
		case <-ticker.C:
			ticker.Reset(r.cfg.ReaperInterval())
			r.runCycle()
		}
	}
}

// runCycle reclaims one batch of expired leases.
func (r *TaskReaper) runCycle() {
	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	tasks, err := r.store.ListExpiredLeases(ctx, time.Now().UTC(), r.cfg.ReaperBatchSize())
	if err != nil {
		r.logger.Error("failed to list expired leases", "error", err)
		return
	}

	for i := range tasks {
		task := &tasks[i]
		if err := r.engine.OnLeaseExpired(ctx, task); err != nil {
			r.logger.Error("failed to reclaim expired lease",
				"task_id", task.ID,
				"execution_id", task.WorkflowID,
				"step", task.StepName,
				"error", err,
			)
		}
	}

	if len(tasks) > 0 {
		r.logger.Info("reclaimed expired leases", "count", len(tasks))
	}
}
