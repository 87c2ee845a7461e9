package resources

import (
	"net/http"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/shell/engine"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Definition JSON:API Model
// =============================================================================

// Definition wraps a stored workflow definition for JSON:API. The
// workflow name is the resource ID; the namespace comes from the
// filter[namespace] query parameter and defaults to "default".
type Definition struct {
	ID        string    `json:"-"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	TaskQueue string    `json:"task_queue"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetID returns the definition name for JSON:API.
func (d Definition) GetID() string {
	return d.Name
}

// SetID sets the definition name for JSON:API.
func (d *Definition) SetID(id string) error {
	d.Name = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (d Definition) GetName() string {
	return "definitions"
}

// DefinitionFromRecord converts a stored definition to its JSON:API shape.
func DefinitionFromRecord(rec *store.DefinitionRecord) Definition {
	return Definition{
		ID:        rec.Name,
		Namespace: rec.Namespace,
		Name:      rec.Name,
		Source:    rec.Source,
		TaskQueue: rec.TaskQueue,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// requestNamespace reads the namespace filter, defaulting to "default".
func requestNamespace(req api2go.Request) string {
	if ns, ok := req.QueryParams["filter[namespace]"]; ok && len(ns) > 0 && ns[0] != "" {
		return ns[0]
	}
	return domain.DefaultNamespace
}

// =============================================================================
// DefinitionResource
// =============================================================================

// DefinitionResource implements the api2go resource interface for
// workflow definitions.
type DefinitionResource struct {
	Store  store.Store
	Engine *engine.Service
}

// NewDefinitionResource creates a definition resource handler.
func NewDefinitionResource(s store.Store, e *engine.Service) *DefinitionResource {
	return &DefinitionResource{Store: s, Engine: e}
}

// FindAll returns the definitions registered in a namespace.
// GET /api/v1/definitions?filter[namespace]=default
func (r DefinitionResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	opts := listOptions(req)
	ctx := req.PlainRequest.Context()
	namespace := requestNamespace(req)

	records, err := r.Store.ListDefinitions(ctx, namespace, opts)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	result := make([]Definition, 0, len(records))
	for i := range records {
		result = append(result, DefinitionFromRecord(&records[i]))
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

// FindOne returns a single definition by workflow name.
// GET /api/v1/definitions/{name}?filter[namespace]=default
func (r DefinitionResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()
	namespace := requestNamespace(req)

	record, err := r.Store.GetDefinition(ctx, namespace, id)
	if err != nil {
		if isNotFound(err) {
			return httpError(http.StatusNotFound, "Definition not found")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{
		Code: http.StatusOK,
		Res:  DefinitionFromRecord(record),
	}, nil
}

// Create registers a workflow definition from HCL source. Registering a
// name again replaces the stored source; new runs pick up the new
// version, open runs keep replaying against the source they started
// with only as far as their history carries them.
// POST /api/v1/definitions
func (r DefinitionResource) Create(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	def, ok := obj.(Definition)
	if !ok {
		return httpError(http.StatusBadRequest, "Invalid request body")
	}
	if def.Source == "" {
		return httpError(http.StatusBadRequest, "source is required")
	}

	namespace := def.Namespace
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}

	parsed, err := r.Engine.RegisterDefinition(ctx, namespace, "api.hcl", def.Source)
	if err != nil {
		return httpError(http.StatusBadRequest, err.Error())
	}

	record, err := r.Store.GetDefinition(ctx, namespace, parsed.Name)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{
		Code: http.StatusCreated,
		Res:  DefinitionFromRecord(record),
	}, nil
}
