package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/shell/dynamicconfig"
	"github.com/artpar/flowstack/internal/shell/engine"
	"github.com/artpar/flowstack/internal/shell/matcher"
	"github.com/artpar/flowstack/internal/shell/runtime"
	"github.com/artpar/flowstack/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupWorkers(t *testing.T) (*engine.Service, *matcher.Service, store.Store, *dynamicconfig.Config) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg, err := dynamicconfig.New("", nil)
	require.NoError(t, err)

	m := matcher.NewService(st, cfg, nil)
	return engine.NewService(st, m, nil), m, st, cfg
}

// =============================================================================
// Timer Worker Tests
// =============================================================================

func TestTimerWorker_FiresDueTimers(t *testing.T) {
	svc, _, st, cfg := setupWorkers(t)
	ctx := context.Background()

	_, err := svc.RegisterDefinition(ctx, "default", "reminder.hcl", `
workflow "reminder" {
  step "remind" {
    activity = "send_reminder"
    delay    = "1ms"
  }
}
`)
	require.NoError(t, err)
	exec, err := svc.StartWorkflow(ctx, "default", "reminder", "")
	require.NoError(t, err)

	// The delayed step waits behind a timer; no task yet.
	tasks, err := st.ListTasksByRun(ctx, exec.RunID)
	require.NoError(t, err)
	require.Empty(t, tasks)

	time.Sleep(10 * time.Millisecond)

	w := NewTimerWorker(st, svc, cfg, nil)
	w.ctx = context.Background()
	w.runCycle()

	tasks, err = st.ListTasksByRun(ctx, exec.RunID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "remind", tasks[0].StepName)
	assert.Equal(t, domain.TaskStatePending, tasks[0].State)

	// A second cycle finds nothing to fire.
	w.runCycle()
	tasks, err = st.ListTasksByRun(ctx, exec.RunID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestTimerWorker_AppliesReloadedResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timer:\n  resolution: 1h\n"), 0o644))

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	cfg, err := dynamicconfig.New(path, nil)
	require.NoError(t, err)
	m := matcher.NewService(st, cfg, nil)
	svc := engine.NewService(st, m, nil)
	ctx := context.Background()

	w := NewTimerWorker(st, svc, cfg, nil)
	w.Start()
	defer w.Stop()
	// Let the startup cycle finish before the timer exists.
	time.Sleep(50 * time.Millisecond)

	_, err = svc.RegisterDefinition(ctx, "default", "reminder.hcl", `
workflow "reminder" {
  step "remind" {
    activity = "send_reminder"
    delay    = "1ms"
  }
}
`)
	require.NoError(t, err)
	exec, err := svc.StartWorkflow(ctx, "default", "reminder", "")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	// At one hour resolution the due timer sits unfired.
	tasks, err := st.ListTasksByRun(ctx, exec.RunID)
	require.NoError(t, err)
	require.Empty(t, tasks)

	reloaded := cfg.Subscribe()
	require.NoError(t, os.WriteFile(path, []byte("timer:\n  resolution: 20ms\n"), 0o644))
	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Skip("filesystem watcher did not deliver an event in time")
	}

	// The worker re-armed its ticker at the new resolution and fires
	// the timer on the next tick.
	assert.Eventually(t, func() bool {
		tasks, err := st.ListTasksByRun(ctx, exec.RunID)
		return err == nil && len(tasks) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTimerWorker_StartStop(t *testing.T) {
	svc, _, st, cfg := setupWorkers(t)

	w := NewTimerWorker(st, svc, cfg, nil)
	w.Start()
	w.Stop()
}

// =============================================================================
// Task Reaper Tests
// =============================================================================

func TestTaskReaper_ReclaimsExpiredLeases(t *testing.T) {
	svc, m, st, cfg := setupWorkers(t)
	ctx := context.Background()

	_, err := svc.RegisterDefinition(ctx, "default", "job.hcl", `
workflow "job" {
  step "work" {
    activity = "do_work"
  }
}
`)
	require.NoError(t, err)
	exec, err := svc.StartWorkflow(ctx, "default", "job", "")
	require.NoError(t, err)

	task, err := m.Poll(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, svc.OnTaskStarted(ctx, task))

	// Backdate the lease so the reaper sees it as abandoned.
	expired := time.Now().UTC().Add(-time.Minute)
	task.LeaseExpires = &expired
	require.NoError(t, st.UpdateTask(ctx, task))

	r := NewTaskReaper(st, svc, cfg, nil)
	r.ctx = context.Background()
	r.runCycle()

	updated, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateBackoff, updated.State)

	timers, err := st.ListDueTimers(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, domain.TimerKindRetry, timers[0].Kind)
	assert.Equal(t, exec.RunID, timers[0].RunID)
}

func TestTaskReaper_LeavesLiveLeasesAlone(t *testing.T) {
	svc, m, st, cfg := setupWorkers(t)
	ctx := context.Background()

	_, err := svc.RegisterDefinition(ctx, "default", "job.hcl", `
workflow "job" {
  step "work" {
    activity = "do_work"
  }
}
`)
	require.NoError(t, err)
	_, err = svc.StartWorkflow(ctx, "default", "job", "")
	require.NoError(t, err)

	task, err := m.Poll(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, svc.OnTaskStarted(ctx, task))

	r := NewTaskReaper(st, svc, cfg, nil)
	r.ctx = context.Background()
	r.runCycle()

	updated, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateLeased, updated.State)
}

// =============================================================================
// Stack Supervisor Tests
// =============================================================================

// fakeInspector serves canned container states per stack.
type fakeInspector struct {
	states map[string][]runtime.ContainerState
}

func (f *fakeInspector) ContainerStates(ctx context.Context, stackID string) ([]runtime.ContainerState, error) {
	return f.states[stackID], nil
}

func runningStack(t *testing.T, st store.Store) *domain.Stack {
	t.Helper()
	stack := domain.NewStack("dev", "services:\n  db:\n    image: postgres:16.3\n", nil)
	require.NoError(t, stack.Transition(domain.StackStatusLaunching))
	require.NoError(t, stack.Transition(domain.StackStatusRunning))
	stack.Containers = []domain.ContainerInfo{
		{ID: "db-ctr", ServiceName: "db", Image: "postgres:16.3", Status: "running"},
	}
	require.NoError(t, st.CreateStack(context.Background(), stack))
	return stack
}

func TestStackSupervisor_DegradesWhenContainerDies(t *testing.T) {
	_, _, st, cfg := setupWorkers(t)
	ctx := context.Background()
	stack := runningStack(t, st)

	inspector := &fakeInspector{states: map[string][]runtime.ContainerState{
		stack.ID: {{ID: "db-ctr", ServiceName: "db", Status: "exited", ExitCode: 1}},
	}}
	w := NewStackSupervisor(st, inspector, cfg, nil)
	w.ctx = context.Background()
	w.runCycle()

	persisted, err := st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StackStatusDegraded, persisted.Status)
	assert.Contains(t, persisted.ErrorMessage, "db")
	assert.Equal(t, "exited", persisted.Containers[0].Status)
}

func TestStackSupervisor_RecoversWhenContainersReturn(t *testing.T) {
	_, _, st, cfg := setupWorkers(t)
	ctx := context.Background()
	stack := runningStack(t, st)

	inspector := &fakeInspector{states: map[string][]runtime.ContainerState{
		stack.ID: {{ID: "db-ctr", ServiceName: "db", Status: "exited"}},
	}}
	w := NewStackSupervisor(st, inspector, cfg, nil)
	w.ctx = context.Background()

	w.runCycle()
	persisted, err := st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StackStatusDegraded, persisted.Status)

	// The daemon's restart policy brought the container back.
	inspector.states[stack.ID] = []runtime.ContainerState{
		{ID: "db-ctr-2", ServiceName: "db", Status: "running"},
	}
	w.runCycle()

	persisted, err = st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StackStatusRunning, persisted.Status)
	assert.Empty(t, persisted.ErrorMessage)
	assert.Equal(t, "db-ctr-2", persisted.Containers[0].ID)
}

func TestStackSupervisor_MissingContainerCountsAsDown(t *testing.T) {
	_, _, st, cfg := setupWorkers(t)
	ctx := context.Background()
	stack := runningStack(t, st)

	inspector := &fakeInspector{states: map[string][]runtime.ContainerState{}}
	w := NewStackSupervisor(st, inspector, cfg, nil)
	w.ctx = context.Background()
	w.runCycle()

	persisted, err := st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StackStatusDegraded, persisted.Status)
	assert.Equal(t, "missing", persisted.Containers[0].Status)
}

func TestStackSupervisor_SkipsUnlaunchedStacks(t *testing.T) {
	_, _, st, cfg := setupWorkers(t)
	ctx := context.Background()

	stack := domain.NewStack("idle", "services:\n  db:\n    image: postgres:16.3\n", nil)
	require.NoError(t, st.CreateStack(ctx, stack))

	w := NewStackSupervisor(st, &fakeInspector{}, cfg, nil)
	w.ctx = context.Background()
	w.runCycle()

	persisted, err := st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StackStatusCreated, persisted.Status)
}
