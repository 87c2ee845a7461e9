package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stack Errors
// =============================================================================

var (
	ErrInvalidStackTransition = errors.New("invalid stack status transition")
)

// =============================================================================
// Stack Status
// =============================================================================

// StackStatus represents the lifecycle state of a launched stack.
type StackStatus string

const (
	StackStatusCreated   StackStatus = "created"
	StackStatusLaunching StackStatus = "launching"
	StackStatusRunning   StackStatus = "running"
	StackStatusDegraded  StackStatus = "degraded"
	StackStatusStopping  StackStatus = "stopping"
	StackStatusStopped   StackStatus = "stopped"
	StackStatusFailed    StackStatus = "failed"
)

// stackTransitions maps each stack status to its allowed successors.
var stackTransitions = map[StackStatus][]StackStatus{
	StackStatusCreated:   {StackStatusLaunching},
	StackStatusLaunching: {StackStatusRunning, StackStatusFailed},
	StackStatusRunning:   {StackStatusDegraded, StackStatusStopping, StackStatusFailed},
	StackStatusDegraded:  {StackStatusRunning, StackStatusStopping, StackStatusFailed},
	StackStatusStopping:  {StackStatusStopped, StackStatusFailed},
	StackStatusStopped:   {StackStatusLaunching},
	StackStatusFailed:    {StackStatusLaunching},
}

// =============================================================================
// Container Info
// =============================================================================

// PortMapping represents a published port.
type PortMapping struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"` // tcp, udp
}

// ContainerInfo describes one container belonging to a launched stack.
type ContainerInfo struct {
	ID          string        `json:"id"`
	ServiceName string        `json:"service_name"`
	Image       string        `json:"image"`
	Status      string        `json:"status"`
	Ports       []PortMapping `json:"ports,omitempty"`
}

// =============================================================================
// Stack
// =============================================================================

// Stack is a registered deployment descriptor plus the state of its
// launched containers. The raw descriptor YAML is kept verbatim so the
// exact input can be re-validated and re-launched.
type Stack struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	SpecYAML     string            `json:"spec_yaml"`
	Status       StackStatus       `json:"status"`
	Variables    map[string]string `json:"variables,omitempty"`
	Containers   []ContainerInfo   `json:"containers,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	LaunchedAt   *time.Time        `json:"launched_at,omitempty"`
	StoppedAt    *time.Time        `json:"stopped_at,omitempty"`
}

// NewStack registers a descriptor under a name.
func NewStack(name, specYAML string, variables map[string]string) *Stack {
	now := time.Now().UTC()
	return &Stack{
		ID:        uuid.New().String(),
		Name:      name,
		SpecYAML:  specYAML,
		Status:    StackStatusCreated,
		Variables: variables,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition attempts to move the stack to a new status.
func (s *Stack) Transition(to StackStatus) error {
	for _, allowed := range stackTransitions[s.Status] {
		if allowed != to {
			continue
		}
		s.Status = to
		now := time.Now().UTC()
		s.UpdatedAt = now
		if to == StackStatusRunning && s.LaunchedAt == nil {
			s.LaunchedAt = &now
		}
		if to == StackStatusStopped {
			s.StoppedAt = &now
		}
		if to != StackStatusFailed && to != StackStatusDegraded {
			s.ErrorMessage = ""
		}
		return nil
	}
	return ErrInvalidStackTransition
}
