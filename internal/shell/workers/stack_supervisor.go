package workers

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/shell/dynamicconfig"
	"github.com/artpar/flowstack/internal/shell/runtime"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Stack Supervisor
// =============================================================================

// ContainerInspector reports the live container state for a stack. The
// runtime launcher implements it.
type ContainerInspector interface {
	ContainerStates(ctx context.Context, stackID string) ([]runtime.ContainerState, error)
}

// StackSupervisor reconciles stored stack state with the container
// runtime. A running stack whose containers died becomes degraded; a
// degraded stack whose containers came back (restart policies) becomes
// running again.
type StackSupervisor struct {
	store     store.Store
	inspector ContainerInspector
	cfg       *dynamicconfig.Config
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStackSupervisor creates a stack supervisor.
func NewStackSupervisor(s store.Store, inspector ContainerInspector, cfg *dynamicconfig.Config, logger *slog.Logger) *StackSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StackSupervisor{
		store:     s,
		inspector: inspector,
		cfg:       cfg,
		logger:    logger.With("component", "stack_supervisor"),
	}
}

// Start begins the supervisor background goroutine.
func (w *StackSupervisor) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go w.run()

	w.logger.Info("stack supervisor started", "interval", w.cfg.SupervisorInterval())
}

// Stop gracefully stops the supervisor.
func (w *StackSupervisor) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("stack supervisor stopped")
}

func (w *StackSupervisor) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.SupervisorInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			ticker.Reset(w.cfg.SupervisorInterval())
			w.runCycle()
		}
	}
}

// runCycle inspects every launched stack once.
func (w *StackSupervisor) runCycle() {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	stacks, err := w.store.ListStacks(ctx, store.DefaultListOptions())
	if err != nil {
		w.logger.Error("failed to list stacks", "error", err)
		return
	}

	for i := range stacks {
		st := &stacks[i]
		if st.Status != domain.StackStatusRunning && st.Status != domain.StackStatusDegraded {
			continue
		}
		if err := w.superviseStack(ctx, st); err != nil {
			w.logger.Error("failed to supervise stack",
				"stack_id", st.ID,
				"name", st.Name,
				"error", err,
			)
		}
	}
}

// superviseStack refreshes one stack's container statuses and moves it
// between running and degraded as needed.
func (w *StackSupervisor) superviseStack(ctx context.Context, st *domain.Stack) error {
	states, err := w.inspector.ContainerStates(ctx, st.ID)
	if err != nil {
		return err
	}

	byService := make(map[string]runtime.ContainerState, len(states))
	for _, state := range states {
		byService[state.ServiceName] = state
	}

	var down []string
	for i := range st.Containers {
		c := &st.Containers[i]
		state, ok := byService[c.ServiceName]
		if !ok {
			c.Status = "missing"
			down = append(down, c.ServiceName)
			continue
		}
		c.ID = state.ID
		c.Status = state.Status
		if !state.Running() {
			down = append(down, c.ServiceName)
		}
	}

	healthy := len(down) == 0 && len(st.Containers) > 0
	switch {
	case st.Status == domain.StackStatusRunning && !healthy:
		if err := st.Transition(domain.StackStatusDegraded); err != nil {
			return err
		}
		sort.Strings(down)
		st.ErrorMessage = "services not running: " + strings.Join(down, ", ")
		w.logger.Warn("stack degraded",
			"stack_id", st.ID,
			"name", st.Name,
			"down", down,
		)
	case st.Status == domain.StackStatusDegraded && healthy:
		if err := st.Transition(domain.StackStatusRunning); err != nil {
			return err
		}
		w.logger.Info("stack recovered", "stack_id", st.ID, "name", st.Name)
	default:
		st.UpdatedAt = time.Now().UTC()
	}

	return w.store.UpdateStack(ctx, st)
}
