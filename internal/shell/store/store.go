// Package store provides persistence for flowstack entities.
package store

import (
	"context"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/core/history"
)

// =============================================================================
// Definition Record
// =============================================================================

// DefinitionRecord is a stored workflow definition. The HCL source is
// kept verbatim; it is re-parsed when an execution starts so the stored
// text is always the authority.
type DefinitionRecord struct {
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	TaskQueue string    `json:"task_queue"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for flowstack entities.
type Store interface {
	// Namespace operations
	CreateNamespace(ctx context.Context, ns *domain.Namespace) error
	GetNamespaceByName(ctx context.Context, name string) (*domain.Namespace, error)
	ListNamespaces(ctx context.Context, opts ListOptions) ([]domain.Namespace, error)

	// Workflow definition operations
	PutDefinition(ctx context.Context, def *DefinitionRecord) error
	GetDefinition(ctx context.Context, namespace, name string) (*DefinitionRecord, error)
	ListDefinitions(ctx context.Context, namespace string, opts ListOptions) ([]DefinitionRecord, error)

	// Workflow execution operations
	CreateExecution(ctx context.Context, exec *domain.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*domain.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, exec *domain.WorkflowExecution) error
	ListExecutions(ctx context.Context, namespace string, opts ListOptions) ([]domain.WorkflowExecution, error)
	ListOpenExecutions(ctx context.Context) ([]domain.WorkflowExecution, error)

	// History operations. AppendEvent enforces per-run contiguity via a
	// uniqueness constraint on (run_id, event_id).
	AppendEvent(ctx context.Context, event *history.Event) error
	ListEvents(ctx context.Context, runID string) ([]history.Event, error)
	NextEventID(ctx context.Context, runID string) (int64, error)

	// Activity task operations
	CreateTask(ctx context.Context, task *domain.ActivityTask) error
	GetTask(ctx context.Context, id string) (*domain.ActivityTask, error)
	GetTaskByToken(ctx context.Context, token string) (*domain.ActivityTask, error)
	UpdateTask(ctx context.Context, task *domain.ActivityTask) error
	LeaseNextTask(ctx context.Context, taskQueue string, leaseUntil time.Time) (*domain.ActivityTask, error)
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.ActivityTask, error)
	ListTasksByRun(ctx context.Context, runID string) ([]domain.ActivityTask, error)

	// Timer operations
	CreateTimer(ctx context.Context, timer *domain.Timer) error
	ListDueTimers(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error)
	MarkTimerFired(ctx context.Context, id string) error

	// Stack operations
	CreateStack(ctx context.Context, st *domain.Stack) error
	GetStack(ctx context.Context, id string) (*domain.Stack, error)
	GetStackByName(ctx context.Context, name string) (*domain.Stack, error)
	UpdateStack(ctx context.Context, st *domain.Stack) error
	DeleteStack(ctx context.Context, id string) error
	ListStacks(ctx context.Context, opts ListOptions) ([]domain.Stack, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
