package scope

import (
	"github.com/google/uuid"
)

// Caller identifies the principal behind a request. It is supplied by the
// authentication layer; the core only consumes it.
type Caller struct {
	UserID      uuid.UUID `json:"user_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	CrossTenant bool      `json:"cross_tenant"`
}

// TenantScope is the effective tenant filter for a query. The zero value
// is invalid; use Resolve to construct one.
type TenantScope struct {
	all      bool
	tenantID uuid.UUID
}

// AllTenants returns a scope spanning every tenant. Only reachable for
// callers holding the cross-tenant capability.
func AllTenants() TenantScope {
	return TenantScope{all: true}
}

// SingleTenant returns a scope restricted to one tenant.
func SingleTenant(id uuid.UUID) TenantScope {
	return TenantScope{tenantID: id}
}

// All reports whether the scope spans every tenant.
func (s TenantScope) All() bool {
	return s.all
}

// TenantID returns the single tenant the scope is restricted to.
// Only meaningful when All() is false.
func (s TenantScope) TenantID() uuid.UUID {
	return s.tenantID
}

// Contains reports whether a row owned by tenantID is visible under the scope.
func (s TenantScope) Contains(tenantID uuid.UUID) bool {
	return s.all || s.tenantID == tenantID
}

// Resolve computes the effective tenant scope for a caller.
//
// Non-privileged callers are always confined to their own tenant; a
// requested filter that disagrees is silently overridden rather than
// rejected, so existence of other tenants is never revealed. Privileged
// callers get the tenant they asked for, or all tenants when they did
// not ask for one.
func Resolve(caller Caller, requested *uuid.UUID) TenantScope {
	if !caller.CrossTenant {
		return SingleTenant(caller.TenantID)
	}
	if requested != nil {
		return SingleTenant(*requested)
	}
	return AllTenants()
}

// StampTenant decides which tenant a newly created row belongs to.
// Callers without the cross-tenant capability may only create rows in
// their own tenant; asking for a different one is a scope violation.
func StampTenant(caller Caller, requested *uuid.UUID) (uuid.UUID, error) {
	if requested == nil || *requested == uuid.Nil {
		return caller.TenantID, nil
	}
	if !caller.CrossTenant && *requested != caller.TenantID {
		return uuid.Nil, ErrPermissionDenied
	}
	return *requested, nil
}
