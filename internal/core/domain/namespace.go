package domain

import (
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Namespace
// =============================================================================

// DefaultNamespace is used when a request does not name a namespace.
const DefaultNamespace = "default"

var (
	ErrInvalidNamespaceName = errors.New("invalid namespace name")
)

// namespaceNameRegex matches lowercase DNS-label style names.
var namespaceNameRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Namespace groups workflow definitions and executions. Retention
// controls how long closed executions and their histories are kept.
type Namespace struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	RetentionDays int       `json:"retention_days"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewNamespace creates a namespace with validated name.
func NewNamespace(name, description string, retentionDays int) (*Namespace, error) {
	if !namespaceNameRegex.MatchString(name) {
		return nil, ErrInvalidNamespaceName
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}

	now := time.Now().UTC()
	return &Namespace{
		ID:            uuid.New().String(),
		Name:          name,
		Description:   description,
		RetentionDays: retentionDays,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
