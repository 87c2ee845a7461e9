package resources

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/flowstack/internal/core/domain"
	corestack "github.com/artpar/flowstack/internal/core/stack"
	"github.com/artpar/flowstack/internal/shell/runtime"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Stack JSON:API Model
// =============================================================================

// Stack wraps domain.Stack for JSON:API. The descriptor is carried as
// raw YAML so the exact registered text round-trips.
type Stack struct {
	ID           string                 `json:"-"`
	Name         string                 `json:"name"`
	Descriptor   string                 `json:"descriptor"`
	Status       string                 `json:"status"`
	Variables    map[string]string      `json:"variables,omitempty"`
	Containers   []domain.ContainerInfo `json:"containers,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	LaunchedAt   *time.Time             `json:"launched_at,omitempty"`
	StoppedAt    *time.Time             `json:"stopped_at,omitempty"`
}

// GetID returns the stack ID for JSON:API.
func (s Stack) GetID() string {
	return s.ID
}

// SetID sets the stack ID for JSON:API.
func (s *Stack) SetID(id string) error {
	s.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (s Stack) GetName() string {
	return "stacks"
}

// StackFromDomain converts a domain.Stack to its JSON:API shape.
func StackFromDomain(st *domain.Stack) Stack {
	return Stack{
		ID:           st.ID,
		Name:         st.Name,
		Descriptor:   st.SpecYAML,
		Status:       string(st.Status),
		Variables:    st.Variables,
		Containers:   st.Containers,
		ErrorMessage: st.ErrorMessage,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
		LaunchedAt:   st.LaunchedAt,
		StoppedAt:    st.StoppedAt,
	}
}

// =============================================================================
// StackResource
// =============================================================================

// StackResource implements the api2go resource interface for deployment
// stacks.
type StackResource struct {
	Store    store.Store
	Launcher *runtime.Launcher
	Logger   *slog.Logger
}

// NewStackResource creates a stack resource handler.
func NewStackResource(s store.Store, l *runtime.Launcher, logger *slog.Logger) *StackResource {
	if logger == nil {
		logger = slog.Default()
	}
	return &StackResource{Store: s, Launcher: l, Logger: logger}
}

// FindAll returns all registered stacks.
// GET /api/v1/stacks
func (r StackResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	opts := listOptions(req)
	ctx := req.PlainRequest.Context()

	stacks, err := r.Store.ListStacks(ctx, opts)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	result := make([]Stack, 0, len(stacks))
	for i := range stacks {
		result = append(result, StackFromDomain(&stacks[i]))
	}

	return &Response{
		Code: http.StatusOK,
		Res:  result,
		Meta: map[string]interface{}{
			"total":  len(result),
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	}, nil
}

// FindOne returns a single stack by ID.
// GET /api/v1/stacks/{id}
func (r StackResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	st, err := r.Store.GetStack(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return httpError(http.StatusNotFound, "Stack not found")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{
		Code: http.StatusOK,
		Res:  StackFromDomain(st),
	}, nil
}

// Create registers a deployment descriptor. The descriptor is parsed
// and validated up front so structural problems surface at registration
// rather than mid-launch.
// POST /api/v1/stacks
func (r StackResource) Create(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	st, ok := obj.(Stack)
	if !ok {
		return httpError(http.StatusBadRequest, "Invalid request body")
	}
	if st.Name == "" {
		return httpError(http.StatusBadRequest, "name is required")
	}
	if st.Descriptor == "" {
		return httpError(http.StatusBadRequest, "descriptor is required")
	}

	spec, err := corestack.ParseStackSpec(st.Descriptor)
	if err != nil {
		return httpError(http.StatusBadRequest, err.Error())
	}
	if findings := corestack.ValidateStackSpec(spec); len(findings) > 0 {
		details := make([]string, 0, len(findings))
		for _, f := range findings {
			details = append(details, f.Error())
		}
		return &Response{
				Code: http.StatusUnprocessableEntity,
				Meta: map[string]interface{}{"findings": details},
			}, api2go.NewHTTPError(
				errors.Join(findings...),
				"Descriptor failed validation",
				http.StatusUnprocessableEntity,
			)
	}

	created := domain.NewStack(st.Name, st.Descriptor, st.Variables)
	if err := r.Store.CreateStack(ctx, created); err != nil {
		if isDuplicate(err) {
			return httpError(http.StatusConflict, "Stack name already registered")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	r.Logger.Info("stack registered",
		"stack_id", created.ID,
		"name", created.Name,
		"services", len(spec.Services),
	)

	return &Response{
		Code: http.StatusCreated,
		Res:  StackFromDomain(created),
	}, nil
}

// Delete removes a stack that is not running.
// DELETE /api/v1/stacks/{id}
func (r StackResource) Delete(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	st, err := r.Store.GetStack(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return httpError(http.StatusNotFound, "Stack not found")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	switch st.Status {
	case domain.StackStatusCreated, domain.StackStatusStopped, domain.StackStatusFailed:
		// deletable
	default:
		return httpError(http.StatusConflict, "Stack must be stopped before deletion")
	}

	if err := r.Store.DeleteStack(ctx, id); err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{Code: http.StatusNoContent}, nil
}

// =============================================================================
// Custom Actions
// =============================================================================

// Launch brings the stack's containers up on the local daemon.
// POST /api/v1/stacks/{id}/launch
func (r StackResource) Launch(id string, req *http.Request) (api2go.Responder, error) {
	if r.Launcher == nil {
		return httpError(http.StatusServiceUnavailable, "Container runtime is not configured")
	}
	ctx := req.Context()

	st, err := r.Store.GetStack(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return httpError(http.StatusNotFound, "Stack not found")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	if err := r.Launcher.LaunchStack(ctx, st); err != nil {
		if errors.Is(err, runtime.ErrStackNotLaunchable) {
			return httpError(http.StatusConflict, err.Error())
		}
		// The launcher already recorded the failure on the stack row.
		return httpError(http.StatusBadGateway, "Launch failed: "+err.Error())
	}

	return &Response{
		Code: http.StatusOK,
		Res:  StackFromDomain(st),
	}, nil
}

// Stop tears the stack's containers down.
// POST /api/v1/stacks/{id}/stop
func (r StackResource) Stop(id string, req *http.Request) (api2go.Responder, error) {
	if r.Launcher == nil {
		return httpError(http.StatusServiceUnavailable, "Container runtime is not configured")
	}
	ctx := req.Context()

	st, err := r.Store.GetStack(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return httpError(http.StatusNotFound, "Stack not found")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	if err := r.Launcher.StopStack(ctx, st); err != nil {
		if errors.Is(err, runtime.ErrStackNotStoppable) {
			return httpError(http.StatusConflict, err.Error())
		}
		return httpError(http.StatusBadGateway, "Stop failed: "+err.Error())
	}

	return &Response{
		Code: http.StatusOK,
		Res:  StackFromDomain(st),
	}, nil
}
