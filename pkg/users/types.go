// Package users implements the tenant-scoped user store.
package users

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/scope"
)

// Role determines what a user may do within their tenant
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
	RoleUser    Role = "user"
)

// Valid reports whether the role is a known value
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAuditor, RoleUser:
		return true
	}
	return false
}

// User is an account bound to exactly one tenant
type User struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	FullName    string    `json:"full_name"`
	Role        Role      `json:"role"`
	Active      bool      `json:"active"`
	CrossTenant bool      `json:"cross_tenant"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest holds the fields accepted when creating a user. An
// empty TenantID places the user in the caller's tenant; naming a
// different tenant, or granting CrossTenant, requires the
// cross-tenant capability.
type CreateRequest struct {
	TenantID    *uuid.UUID `json:"tenant_id,omitempty"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	FullName    string     `json:"full_name"`
	Role        Role       `json:"role"`
	CrossTenant bool       `json:"cross_tenant"`
}

// Validate normalizes and checks a create request
func (r *CreateRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return &scope.ValidationError{Field: "email", Reason: "must be a valid address"}
	}
	r.Username = strings.TrimSpace(r.Username)
	if len(r.Username) < 3 {
		return &scope.ValidationError{Field: "username", Reason: "must be at least 3 characters"}
	}
	if r.Role == "" {
		r.Role = RoleUser
	}
	if !r.Role.Valid() {
		return &scope.ValidationError{Field: "role", Reason: "must be admin, auditor or user"}
	}
	return nil
}

// UpdateRequest holds the mutable user fields. Nil means unchanged.
type UpdateRequest struct {
	Email       *string `json:"email,omitempty"`
	FullName    *string `json:"full_name,omitempty"`
	Role        *Role   `json:"role,omitempty"`
	Active      *bool   `json:"active,omitempty"`
	CrossTenant *bool   `json:"cross_tenant,omitempty"`
}

// Validate checks an update request
func (r *UpdateRequest) Validate() error {
	if r.Email != nil {
		normalized := strings.ToLower(strings.TrimSpace(*r.Email))
		if _, err := mail.ParseAddress(normalized); err != nil {
			return &scope.ValidationError{Field: "email", Reason: "must be a valid address"}
		}
		r.Email = &normalized
	}
	if r.Role != nil && !r.Role.Valid() {
		return &scope.ValidationError{Field: "role", Reason: "must be admin, auditor or user"}
	}
	return nil
}

// ListFilter narrows a user listing within the resolved scope
type ListFilter struct {
	Role   *Role
	Active *bool
	Search string
	Skip   int
	Limit  int
}
