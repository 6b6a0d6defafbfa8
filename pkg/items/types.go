// Package items implements the tenant-scoped item store.
package items

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/scope"
)

// Status tracks an item's lifecycle
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// Valid reports whether the status is a known value
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusArchived:
		return true
	}
	return false
}

// Item is a generic tenant-owned business record
type Item struct {
	ID          uuid.UUID              `json:"id"`
	TenantID    uuid.UUID              `json:"tenant_id"`
	OwnerID     *uuid.UUID             `json:"owner_id,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Status      Status                 `json:"status"`
	Amount      *float64               `json:"amount,omitempty"`
	Data        map[string]interface{} `json:"data"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// CreateRequest holds the fields accepted when creating an item
type CreateRequest struct {
	TenantID    *uuid.UUID             `json:"tenant_id,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Status      Status                 `json:"status"`
	Amount      *float64               `json:"amount,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Validate normalizes and checks a create request
func (r *CreateRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return &scope.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if !r.Status.Valid() {
		return &scope.ValidationError{Field: "status", Reason: "must be active, inactive or archived"}
	}
	if r.Amount != nil && *r.Amount < 0 {
		return &scope.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	return nil
}

// UpdateRequest holds the mutable item fields. Nil means unchanged.
type UpdateRequest struct {
	Name        *string                 `json:"name,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Status      *Status                 `json:"status,omitempty"`
	Amount      *float64                `json:"amount,omitempty"`
	Data        *map[string]interface{} `json:"data,omitempty"`
}

// Validate checks an update request
func (r *UpdateRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return &scope.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if r.Status != nil && !r.Status.Valid() {
		return &scope.ValidationError{Field: "status", Reason: "must be active, inactive or archived"}
	}
	if r.Amount != nil && *r.Amount < 0 {
		return &scope.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	return nil
}

// ListFilter narrows an item listing within the resolved scope
type ListFilter struct {
	Status  *Status
	OwnerID *uuid.UUID
	Search  string
	Skip    int
	Limit   int
}
