// Package tenants implements the tenant registry. Tenants partition
// every other resource; registry mutations require the cross-tenant
// capability.
package tenants

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/scope"
)

// codePattern constrains tenant codes to short uppercase identifiers
var codePattern = regexp.MustCompile(`^[A-Z0-9_]{2,20}$`)

// Tenant is one isolated partition of the system
type Tenant struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Active      bool            `json:"active"`
	MaxUsers    int             `json:"max_users"`
	MaxItems    int             `json:"max_items"`
	MaxStorage  int             `json:"max_storage_gb"`
	Features    map[string]bool `json:"features"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreateRequest holds the fields accepted when registering a tenant
type CreateRequest struct {
	Name        string          `json:"name"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	MaxUsers    int             `json:"max_users"`
	MaxItems    int             `json:"max_items"`
	MaxStorage  int             `json:"max_storage_gb"`
	Features    map[string]bool `json:"features"`
}

// Validate normalizes and checks a create request. The code is
// uppercased before validation so clients may send either case.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &scope.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
	if !codePattern.MatchString(r.Code) {
		return &scope.ValidationError{Field: "code", Reason: "must be 2-20 characters of A-Z, 0-9 or underscore"}
	}
	if r.MaxUsers < 0 {
		return &scope.ValidationError{Field: "max_users", Reason: "must not be negative"}
	}
	if r.MaxItems < 0 {
		return &scope.ValidationError{Field: "max_items", Reason: "must not be negative"}
	}
	if r.MaxStorage < 0 {
		return &scope.ValidationError{Field: "max_storage_gb", Reason: "must not be negative"}
	}
	if r.MaxUsers == 0 {
		r.MaxUsers = 100
	}
	if r.MaxItems == 0 {
		r.MaxItems = 10000
	}
	if r.MaxStorage == 0 {
		r.MaxStorage = 10
	}
	return nil
}

// UpdateRequest holds the mutable tenant fields. Nil means unchanged;
// the code is immutable after creation.
type UpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Active      *bool            `json:"active,omitempty"`
	MaxUsers    *int             `json:"max_users,omitempty"`
	MaxItems    *int             `json:"max_items,omitempty"`
	MaxStorage  *int             `json:"max_storage_gb,omitempty"`
	Features    *map[string]bool `json:"features,omitempty"`
}

// Validate checks an update request
func (r *UpdateRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return &scope.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if r.MaxUsers != nil && *r.MaxUsers < 0 {
		return &scope.ValidationError{Field: "max_users", Reason: "must not be negative"}
	}
	if r.MaxItems != nil && *r.MaxItems < 0 {
		return &scope.ValidationError{Field: "max_items", Reason: "must not be negative"}
	}
	if r.MaxStorage != nil && *r.MaxStorage < 0 {
		return &scope.ValidationError{Field: "max_storage_gb", Reason: "must not be negative"}
	}
	return nil
}

// ListFilter narrows a registry listing
type ListFilter struct {
	Active *bool
	Search string
	Skip   int
	Limit  int
}
