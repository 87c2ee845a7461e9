// Package workers contains background workers for flowstack.
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
// Timer Worker
// =============================================================================

// TimerWorker fires durable timers. Every tick it loads the timers
// whose deadline passed and hands each to the engine. Timers created
// before a restart fire on the first tick after the restart.
type TimerWorker struct {
	store  store.Store
	engine *engine.Service
	cfg    *dynamicconfig.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTimerWorker creates a timer worker.
func NewTimerWorker(s store.Store, e *engine.Service, cfg *dynamicconfig.Config, logger *slog.Logger) *TimerWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerWorker{
		store:  s,
		engine: e,
		cfg:    cfg,
		logger: logger.With("component", "timer_worker"),
	}
}

// Start begins the timer worker background goroutine.
func (w *TimerWorker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go w.run()

	w.logger.Info("timer worker started", "resolution", w.cfg.TimerResolution())
}

// Stop gracefully stops the timer worker.
func (w *TimerWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("timer worker stopped")
}

// run is the main loop firing due timers at the configured resolution.
func (w *TimerWorker) run() {
	defer w.wg.Done()

	// Run immediately on start so timers that came due while the
	// process was down fire without waiting a full tick.
	w.runCycle()

	ticker := time.NewTicker(w.cfg.TimerResolution())
	defer ticker.Stop()

	// The resolution is dynamic config; re-arm the ticker on reload so
	// the new value takes effect without waiting out the old interval.
	reload := w.cfg.Subscribe()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-reload:
			ticker.Reset(w.cfg.TimerResolution())
		case <-ticker.C:
			ticker.Reset(w.cfg.TimerResolution())
			w.runCycle()
		}
	}
}

// runCycle fires every due timer once.
func (w *TimerWorker) runCycle() {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	timers, err := w.store.ListDueTimers(ctx, time.Now().UTC(), 100)
	if err != nil {
		w.logger.Error("failed to list due timers", "error", err)
		return
	}

	for i := range timers {
		timer := &timers[i]
		if err := w.engine.OnTimerFired(ctx, timer); err != nil {
			w.logger.Error("failed to fire timer",
				"timer_id", timer.ID,
				"kind", timer.Kind,
				"execution_id", timer.WorkflowID,
				"error", err,
			)
		}
	}

	if len(timers) > 0 {
		w.logger.Debug("fired due timers", "count", len(timers))
	}
}
