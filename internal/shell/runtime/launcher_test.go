package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/core/launch"
	"github.com/artpar/flowstack/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake Client
// =============================================================================

// fakeClient records runtime calls in order and can fail on demand.
type fakeClient struct {
	mu         sync.Mutex
	calls      []string
	containers map[string]launch.ContainerPlan
	nextID     int
	failCreate string // service name whose create fails
}

func newFakeClient() *fakeClient {
	return &fakeClient{containers: make(map[string]launch.ContainerPlan)}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }
func (f *fakeClient) Close() error                   { return nil }

func (f *fakeClient) PullImage(ctx context.Context, imageRef string) error {
	f.record("pull " + imageRef)
	return nil
}

func (f *fakeClient) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	f.record("network " + name)
	return nil
}

func (f *fakeClient) RemoveNetwork(ctx context.Context, name string) error {
	f.record("rmnetwork " + name)
	return nil
}

func (f *fakeClient) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	f.record("volume " + name)
	return nil
}

func (f *fakeClient) CreateContainer(ctx context.Context, plan launch.ContainerPlan, networkName string) (string, error) {
	if plan.ServiceName == f.failCreate {
		return "", NewRuntimeError("CreateContainer", "container", plan.ContainerName, "boom", ErrPortAlreadyAllocated)
	}
	f.mu.Lock()
	f.nextID++
	id := plan.ServiceName + "-ctr"
	f.containers[id] = plan
	f.mu.Unlock()
	f.record("create " + plan.ServiceName)
	return id, nil
}

func (f *fakeClient) StartContainer(ctx context.Context, containerID string) error {
	f.record("start " + containerID)
	return nil
}

func (f *fakeClient) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	f.record("stop " + containerID)
	return nil
}

func (f *fakeClient) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	f.record("remove " + containerID)
	return nil
}

func (f *fakeClient) ListStackContainers(ctx context.Context, stackID string) ([]ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var states []ContainerState
	for id, plan := range f.containers {
		states = append(states, ContainerState{
			ID:          id,
			Name:        plan.ContainerName,
			ServiceName: plan.ServiceName,
			Image:       plan.Image,
			Status:      "running",
		})
	}
	return states, nil
}

// =============================================================================
// Test Helpers
// =============================================================================

const descriptorYAML = `
services:
  db:
    image: postgres:16.3
    environment:
      POSTGRES_PASSWORD: flow
    volumes:
      - db-data:/var/lib/postgresql/data
  server:
    image: flowstack/server:1.2.0
    depends_on:
      - db
    ports:
      - "7233:7233"
  ui:
    image: flowstack/ui:1.2.0
    depends_on:
      - server
    ports:
      - "8080:8080"
volumes:
  db-data:
`

func setupLauncher(t *testing.T) (*Launcher, *fakeClient, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := newFakeClient()
	return NewLauncher(client, st, nil), client, st
}

func registerStack(t *testing.T, s store.Store) *domain.Stack {
	t.Helper()
	stack := domain.NewStack("temporal-dev", descriptorYAML, nil)
	require.NoError(t, s.CreateStack(context.Background(), stack))
	return stack
}

// =============================================================================
// Launch Tests
// =============================================================================

func TestLaunchStack_StartsInDependencyOrder(t *testing.T) {
	launcher, client, st := setupLauncher(t)
	stack := registerStack(t, st)
	ctx := context.Background()

	require.NoError(t, launcher.LaunchStack(ctx, stack))
	assert.Equal(t, domain.StackStatusRunning, stack.Status)
	require.Len(t, stack.Containers, 3)

	// db before server before ui.
	var order []string
	for _, call := range client.calls {
		if len(call) > 7 && call[:7] == "create " {
			order = append(order, call[7:])
		}
	}
	assert.Equal(t, []string{"db", "server", "ui"}, order)

	// The named volume was created with the stack prefix.
	assert.Contains(t, client.calls, "volume "+launch.VolumeName(stack.ID, "db-data"))

	// Launch state was persisted.
	persisted, err := st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StackStatusRunning, persisted.Status)
	require.NotNil(t, persisted.LaunchedAt)
	assert.Len(t, persisted.Containers, 3)
}

func TestLaunchStack_RecordsPublishedPorts(t *testing.T) {
	launcher, _, st := setupLauncher(t)
	stack := registerStack(t, st)

	require.NoError(t, launcher.LaunchStack(context.Background(), stack))

	var server *domain.ContainerInfo
	for i := range stack.Containers {
		if stack.Containers[i].ServiceName == "server" {
			server = &stack.Containers[i]
		}
	}
	require.NotNil(t, server)
	require.Len(t, server.Ports, 1)
	assert.Equal(t, 7233, server.Ports[0].HostPort)
	assert.Equal(t, "tcp", server.Ports[0].Protocol)
}

func TestLaunchStack_FailureMarksStackFailed(t *testing.T) {
	launcher, client, st := setupLauncher(t)
	client.failCreate = "server"
	stack := registerStack(t, st)
	ctx := context.Background()

	err := launcher.LaunchStack(ctx, stack)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPortAlreadyAllocated)

	persisted, err := st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StackStatusFailed, persisted.Status)
	assert.NotEmpty(t, persisted.ErrorMessage)
}

func TestLaunchStack_InvalidDescriptorRejected(t *testing.T) {
	launcher, _, st := setupLauncher(t)
	ctx := context.Background()

	// Unpinned tag fails validation before any container is touched.
	stack := domain.NewStack("bad", "services:\n  web:\n    image: nginx:latest\n", nil)
	require.NoError(t, st.CreateStack(ctx, stack))

	err := launcher.LaunchStack(ctx, stack)
	require.Error(t, err)

	persisted, err := st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StackStatusFailed, persisted.Status)
}

func TestLaunchStack_RunningStackNotRelaunchable(t *testing.T) {
	launcher, _, st := setupLauncher(t)
	stack := registerStack(t, st)
	ctx := context.Background()

	require.NoError(t, launcher.LaunchStack(ctx, stack))
	err := launcher.LaunchStack(ctx, stack)
	assert.ErrorIs(t, err, ErrStackNotLaunchable)
}

// =============================================================================
// Stop Tests
// =============================================================================

func TestStopStack_ReverseOrderAndNetworkRemoval(t *testing.T) {
	launcher, client, st := setupLauncher(t)
	stack := registerStack(t, st)
	ctx := context.Background()

	require.NoError(t, launcher.LaunchStack(ctx, stack))
	client.calls = nil

	require.NoError(t, launcher.StopStack(ctx, stack))
	assert.Equal(t, domain.StackStatusStopped, stack.Status)
	assert.Empty(t, stack.Containers)

	var stops []string
	for _, call := range client.calls {
		if len(call) > 5 && call[:5] == "stop " {
			stops = append(stops, call[5:])
		}
	}
	assert.Equal(t, []string{"ui-ctr", "server-ctr", "db-ctr"}, stops)
	assert.Contains(t, client.calls, "rmnetwork "+launch.NetworkName(stack.ID))

	persisted, err := st.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StackStatusStopped, persisted.Status)
	require.NotNil(t, persisted.StoppedAt)
}

func TestStopStack_CreatedStackNotStoppable(t *testing.T) {
	launcher, _, st := setupLauncher(t)
	stack := registerStack(t, st)

	err := launcher.StopStack(context.Background(), stack)
	assert.ErrorIs(t, err, ErrStackNotStoppable)
}
