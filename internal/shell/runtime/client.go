// Package runtime launches and supervises stack containers on the
// local Docker daemon. This is part of the Imperative Shell - the pure
// launch planning lives in internal/core/launch.
package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/core/launch"
	corestack "github.com/artpar/flowstack/internal/core/stack"
)

// =============================================================================
// Client Interface
// =============================================================================

// ContainerState is the runtime view of one stack container.
type ContainerState struct {
	ID          string
	Name        string
	ServiceName string
	Image       string
	Status      string
	Health      string
	ExitCode    int
	Ports       []domain.PortMapping
}

// Running reports whether the container is currently running.
func (c *ContainerState) Running() bool {
	return c.Status == "running"
}

// Client abstracts the container runtime operations the launcher needs.
type Client interface {
	Ping(ctx context.Context) error
	PullImage(ctx context.Context, imageRef string) error
	CreateNetwork(ctx context.Context, name string, labels map[string]string) error
	RemoveNetwork(ctx context.Context, name string) error
	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	CreateContainer(ctx context.Context, plan launch.ContainerPlan, networkName string) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	ListStackContainers(ctx context.Context, stackID string) ([]ContainerState, error)
	Close() error
}

// =============================================================================
// Docker Client
// =============================================================================

// DockerClient implements Client against the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a Docker client. An empty host uses the
// environment's default daemon.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewRuntimeError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewRuntimeError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// PullImage pulls an image from its registry.
func (d *DockerClient) PullImage(ctx context.Context, imageRef string) error {
	reader, err := d.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewRuntimeError("PullImage", "image", imageRef, "image not found", ErrImageNotFound)
		}
		return NewRuntimeError("PullImage", "image", imageRef, err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewRuntimeError("PullImage", "image", imageRef, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// CreateNetwork creates the stack's bridge network. An existing network
// with the same name is reused.
func (d *DockerClient) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return NewRuntimeError("CreateNetwork", "network", name, err.Error(), err)
	}
	return nil
}

// RemoveNetwork removes a stack network.
func (d *DockerClient) RemoveNetwork(ctx context.Context, name string) error {
	if err := d.cli.NetworkRemove(ctx, name); err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("RemoveNetwork", "network", name, "network not found", ErrNetworkNotFound)
		}
		return NewRuntimeError("RemoveNetwork", "network", name, err.Error(), err)
	}
	return nil
}

// CreateVolume creates a named volume. Volume creation is idempotent in
// the daemon, so re-launching a stack reuses its data.
func (d *DockerClient) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: "local",
		Labels: labels,
	})
	if err != nil {
		return NewRuntimeError("CreateVolume", "volume", name, err.Error(), err)
	}
	return nil
}

// CreateContainer creates a container from a launch plan entry and
// attaches it to the stack network.
func (d *DockerClient) CreateContainer(ctx context.Context, plan launch.ContainerPlan, networkName string) (string, error) {
	config := &container.Config{
		Image:      plan.Image,
		Cmd:        plan.Command,
		Entrypoint: plan.Entrypoint,
		Labels:     plan.Labels,
	}
	for k, v := range plan.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}

	if len(plan.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range plan.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.Target, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.Published != 0 {
				hostPort = strconv.Itoa(int(p.Published))
			}
			portBindings[containerPort] = []nat.PortBinding{
				{HostIP: p.HostIP, HostPort: hostPort},
			}
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	for _, m := range plan.Mounts {
		var mountType mount.Type
		switch m.Type {
		case corestack.MountTypeBind:
			mountType = mount.TypeBind
		case corestack.MountTypeTmpfs:
			mountType = mount.TypeTmpfs
		default:
			mountType = mount.TypeVolume
		}

		dm := mount.Mount{
			Type:     mountType,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
		if mountType != mount.TypeTmpfs {
			dm.Source = m.Source
		}
		hostConfig.Mounts = append(hostConfig.Mounts, dm)
	}

	if plan.Restart != "" && plan.Restart != corestack.RestartNo {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(plan.Restart),
		}
	}

	if plan.LogDriver != "" {
		hostConfig.LogConfig = container.LogConfig{Type: plan.LogDriver}
	}

	networkConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			networkName: {
				// Containers reach each other by service name, the way
				// the descriptor's environment wiring assumes.
				Aliases: []string{plan.ServiceName},
			},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, plan.ContainerName)
	if err != nil {
		if strings.Contains(err.Error(), "port is already allocated") {
			return "", NewRuntimeError("CreateContainer", "container", plan.ContainerName, err.Error(), ErrPortAlreadyAllocated)
		}
		return "", NewRuntimeError("CreateContainer", "container", plan.ContainerName, err.Error(), err)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func (d *DockerClient) StartContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("StartContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewRuntimeError("StartContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// StopContainer stops a running container within the grace period.
func (d *DockerClient) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	stopOpts := container.StopOptions{}
	if timeout > 0 {
		seconds := int(timeout.Seconds())
		stopOpts.Timeout = &seconds
	}

	if err := d.cli.ContainerStop(ctx, containerID, stopOpts); err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("StopContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewRuntimeError("StopContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("RemoveContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewRuntimeError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// ListStackContainers returns every container labeled with the stack ID.
func (d *DockerClient) ListStackContainers(ctx context.Context, stackID string) ([]ContainerState, error) {
	f := filters.NewArgs()
	f.Add("label", launch.StackIDLabel+"="+stackID)

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, NewRuntimeError("ListStackContainers", "container", "", err.Error(), err)
	}

	result := make([]ContainerState, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []domain.PortMapping
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			ports = append(ports, domain.PortMapping{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
			})
		}

		result = append(result, ContainerState{
			ID:          c.ID,
			Name:        name,
			ServiceName: c.Labels[launch.ServiceLabel],
			Image:       c.Image,
			Status:      c.State,
			Ports:       ports,
		})
	}
	return result, nil
}
