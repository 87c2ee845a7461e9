package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/core/launch"
	corestack "github.com/artpar/flowstack/internal/core/stack"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Stack Launcher
// =============================================================================

// stopTimeout is the grace period given to a container on stop.
const stopTimeout = 10 * time.Second

// Launcher drives a registered stack through its container lifecycle:
// parse and validate the descriptor, plan the launch, bring containers
// up in dependency order and tear them down in reverse.
type Launcher struct {
	client Client
	store  store.Store
	logger *slog.Logger
}

// NewLauncher creates a stack launcher.
func NewLauncher(client Client, s store.Store, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		client: client,
		store:  s,
		logger: logger.With("component", "launcher"),
	}
}

// =============================================================================
// Launch
// =============================================================================

// LaunchStack validates the stack's descriptor and starts its
// containers in dependency order. The stack ends in running, or in
// failed with the error recorded on the stack row.
func (l *Launcher) LaunchStack(ctx context.Context, st *domain.Stack) error {
	if err := st.Transition(domain.StackStatusLaunching); err != nil {
		return fmt.Errorf("%w: %s", ErrStackNotLaunchable, st.Status)
	}
	if err := l.store.UpdateStack(ctx, st); err != nil {
		return err
	}

	if err := l.launch(ctx, st); err != nil {
		if terr := st.Transition(domain.StackStatusFailed); terr == nil {
			st.ErrorMessage = err.Error()
			if uerr := l.store.UpdateStack(ctx, st); uerr != nil {
				l.logger.Error("failed to record stack failure", "stack_id", st.ID, "error", uerr)
			}
		}
		return err
	}

	if err := st.Transition(domain.StackStatusRunning); err != nil {
		return err
	}
	if err := l.store.UpdateStack(ctx, st); err != nil {
		return err
	}

	l.logger.Info("stack launched",
		"stack_id", st.ID,
		"name", st.Name,
		"containers", len(st.Containers),
	)
	return nil
}

// launch performs the actual bring-up, leaving status handling to the caller.
func (l *Launcher) launch(ctx context.Context, st *domain.Stack) error {
	spec, err := corestack.ParseStackSpec(st.SpecYAML)
	if err != nil {
		return err
	}
	if errs := corestack.ValidateStackSpec(spec); len(errs) > 0 {
		return errors.Join(errs...)
	}

	plan := launch.BuildPlan(st.ID, spec, st.Variables)

	stackLabels := map[string]string{launch.StackIDLabel: st.ID}
	if err := l.client.CreateNetwork(ctx, plan.NetworkName, stackLabels); err != nil {
		return err
	}

	// Named volumes referenced by any container plan.
	created := make(map[string]bool)
	for _, cp := range plan.Containers {
		for _, m := range cp.Mounts {
			if m.Type != corestack.MountTypeVolume || created[m.Source] {
				continue
			}
			if err := l.client.CreateVolume(ctx, m.Source, stackLabels); err != nil {
				return err
			}
			created[m.Source] = true
		}
	}

	st.Containers = st.Containers[:0]
	for _, cp := range plan.Containers {
		if err := l.client.PullImage(ctx, cp.Image); err != nil {
			return err
		}

		id, err := l.client.CreateContainer(ctx, cp, plan.NetworkName)
		if err != nil {
			return err
		}
		if err := l.client.StartContainer(ctx, id); err != nil {
			return err
		}

		info := domain.ContainerInfo{
			ID:          id,
			ServiceName: cp.ServiceName,
			Image:       cp.Image,
			Status:      "running",
		}
		for _, p := range cp.Ports {
			if p.Published == 0 {
				continue
			}
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			info.Ports = append(info.Ports, domain.PortMapping{
				ContainerPort: int(p.Target),
				HostPort:      int(p.Published),
				Protocol:      proto,
			})
		}
		st.Containers = append(st.Containers, info)

		l.logger.Debug("container started",
			"stack_id", st.ID,
			"service", cp.ServiceName,
			"container_id", id,
		)
	}

	return nil
}

// =============================================================================
// Stop
// =============================================================================

// StopStack stops and removes the stack's containers in reverse launch
// order, then removes the stack network.
func (l *Launcher) StopStack(ctx context.Context, st *domain.Stack) error {
	if err := st.Transition(domain.StackStatusStopping); err != nil {
		return fmt.Errorf("%w: %s", ErrStackNotStoppable, st.Status)
	}
	if err := l.store.UpdateStack(ctx, st); err != nil {
		return err
	}

	for i := len(st.Containers) - 1; i >= 0; i-- {
		c := st.Containers[i]
		if err := l.client.StopContainer(ctx, c.ID, stopTimeout); err != nil && !errors.Is(err, ErrContainerNotFound) {
			l.logger.Warn("failed to stop container",
				"stack_id", st.ID,
				"service", c.ServiceName,
				"error", err,
			)
		}
		if err := l.client.RemoveContainer(ctx, c.ID, true); err != nil && !errors.Is(err, ErrContainerNotFound) {
			l.logger.Warn("failed to remove container",
				"stack_id", st.ID,
				"service", c.ServiceName,
				"error", err,
			)
		}
	}

	if err := l.client.RemoveNetwork(ctx, launch.NetworkName(st.ID)); err != nil && !errors.Is(err, ErrNetworkNotFound) {
		l.logger.Warn("failed to remove network", "stack_id", st.ID, "error", err)
	}

	st.Containers = nil
	if err := st.Transition(domain.StackStatusStopped); err != nil {
		return err
	}
	if err := l.store.UpdateStack(ctx, st); err != nil {
		return err
	}

	l.logger.Info("stack stopped", "stack_id", st.ID, "name", st.Name)
	return nil
}

// =============================================================================
// Inspection
// =============================================================================

// ContainerStates returns the live state of the stack's containers, as
// labeled on the daemon. Used by the supervisor to detect degradation.
func (l *Launcher) ContainerStates(ctx context.Context, stackID string) ([]ContainerState, error) {
	return l.client.ListStackContainers(ctx, stackID)
}
