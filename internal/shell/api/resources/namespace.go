package resources

import (
	"net/http"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Namespace JSON:API Model
// =============================================================================

// Namespace wraps domain.Namespace for JSON:API. Namespaces are
// addressed by name, so the name doubles as the resource ID.
type Namespace struct {
	ID            string    `json:"-"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	RetentionDays int       `json:"retention_days"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GetID returns the namespace name for JSON:API.
func (n Namespace) GetID() string {
	return n.Name
}

// SetID sets the namespace name for JSON:API.
func (n *Namespace) SetID(id string) error {
	n.Name = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (n Namespace) GetName() string {
	return "namespaces"
}

// NamespaceFromDomain converts a domain.Namespace to its JSON:API shape.
func NamespaceFromDomain(ns *domain.Namespace) Namespace {
	return Namespace{
		ID:            ns.ID,
		Name:          ns.Name,
		Description:   ns.Description,
		RetentionDays: ns.RetentionDays,
		CreatedAt:     ns.CreatedAt,
		UpdatedAt:     ns.UpdatedAt,
	}
}

// =============================================================================
// NamespaceResource
// =============================================================================

// NamespaceResource implements the api2go resource interface for namespaces.
type NamespaceResource struct {
	Store store.Store
}

// NewNamespaceResource creates a namespace resource handler.
func NewNamespaceResource(s store.Store) *NamespaceResource {
	return &NamespaceResource{Store: s}
}

// FindAll returns all namespaces.
// GET /api/v1/namespaces
func (r NamespaceResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	opts := listOptions(req)
	ctx := req.PlainRequest.Context()

	namespaces, err := r.Store.ListNamespaces(ctx, opts)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	result := make([]Namespace, 0, len(namespaces))
	for i := range namespaces {
		result = append(result, NamespaceFromDomain(&namespaces[i]))
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

// FindOne returns a single namespace by name.
// GET /api/v1/namespaces/{name}
func (r NamespaceResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	ns, err := r.Store.GetNamespaceByName(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return httpError(http.StatusNotFound, "Namespace not found")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{
		Code: http.StatusOK,
		Res:  NamespaceFromDomain(ns),
	}, nil
}

// Create registers a new namespace.
// POST /api/v1/namespaces
func (r NamespaceResource) Create(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	ns, ok := obj.(Namespace)
	if !ok {
		return httpError(http.StatusBadRequest, "Invalid request body")
	}

	created, err := domain.NewNamespace(ns.Name, ns.Description, ns.RetentionDays)
	if err != nil {
		return httpError(http.StatusBadRequest, err.Error())
	}

	if err := r.Store.CreateNamespace(ctx, created); err != nil {
		if isDuplicate(err) {
			return httpError(http.StatusConflict, "Namespace already exists")
		}
		return &Response{Code: http.StatusInternalServerError}, err
	}

	return &Response{
		Code: http.StatusCreated,
		Res:  NamespaceFromDomain(created),
	}, nil
}
