package launch

import (
	"github.com/artpar/flowstack/internal/core/stack"
)

// =============================================================================
// Launch Plan
// =============================================================================

// Labels stamped on every container so the supervisor can find a
// stack's containers again after a restart.
const (
	StackIDLabel = "flowstack.stack_id"
	ServiceLabel = "flowstack.service"
)

// ContainerPlan is everything the runtime needs to create one container.
type ContainerPlan struct {
	ServiceName   string
	ContainerName string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []stack.Port
	Mounts        []stack.Mount
	Restart       stack.RestartPolicy
	LogDriver     string
}

// Plan is an ordered sequence of container plans plus the shared
// network. Containers are created and started in slice order and torn
// down in reverse.
type Plan struct {
	StackID     string
	NetworkName string
	Containers  []ContainerPlan
}

// BuildPlan computes the launch plan for a stack: services sorted into
// dependency order, container names assigned, environments rendered
// and volume mounts namespaced to the stack.
func BuildPlan(stackID string, spec *stack.StackSpec, variables map[string]string) *Plan {
	ordered := TopologicalSort(spec.Services)

	plan := &Plan{
		StackID:     stackID,
		NetworkName: NetworkName(stackID),
		Containers:  make([]ContainerPlan, 0, len(ordered)),
	}

	for _, svc := range ordered {
		cp := ContainerPlan{
			ServiceName:   svc.Name,
			ContainerName: ContainerName(stackID, svc.Name),
			Image:         svc.Image,
			Command:       svc.Command,
			Entrypoint:    svc.Entrypoint,
			Env:           RenderEnvironment(svc.Environment, variables),
			Labels:        planLabels(stackID, svc),
			Ports:         svc.Ports,
			Restart:       svc.Restart,
			LogDriver:     svc.LogDriver,
		}

		// Named volumes are namespaced per stack; bind mounts and tmpfs
		// pass through untouched.
		for _, m := range svc.Mounts {
			if m.Type == stack.MountTypeVolume {
				m.Source = VolumeName(stackID, m.Source)
			}
			cp.Mounts = append(cp.Mounts, m)
		}

		plan.Containers = append(plan.Containers, cp)
	}

	return plan
}

// planLabels merges descriptor labels with the stack bookkeeping labels
// the supervisor uses to find containers again.
func planLabels(stackID string, svc stack.Service) map[string]string {
	labels := make(map[string]string, len(svc.Labels)+2)
	for k, v := range svc.Labels {
		labels[k] = v
	}
	labels[StackIDLabel] = stackID
	labels[ServiceLabel] = svc.Name
	return labels
}
