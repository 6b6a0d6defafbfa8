package scope

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()

	t.Run("non-privileged caller is confined to own tenant", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA}

		s := Resolve(caller, nil)
		assert.False(t, s.All())
		assert.Equal(t, tenantA, s.TenantID())
	})

	t.Run("non-privileged caller requesting another tenant is silently overridden", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA}

		s := Resolve(caller, &tenantB)
		assert.False(t, s.All())
		assert.Equal(t, tenantA, s.TenantID(), "requested filter must not widen the scope")
	})

	t.Run("privileged caller with no filter sees all tenants", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA, CrossTenant: true}

		s := Resolve(caller, nil)
		assert.True(t, s.All())
	})

	t.Run("privileged caller with explicit filter is narrowed to it", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA, CrossTenant: true}

		s := Resolve(caller, &tenantB)
		assert.False(t, s.All())
		assert.Equal(t, tenantB, s.TenantID())
	})
}

func TestTenantScope_Contains(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()

	assert.True(t, AllTenants().Contains(tenantA))
	assert.True(t, AllTenants().Contains(tenantB))
	assert.True(t, SingleTenant(tenantA).Contains(tenantA))
	assert.False(t, SingleTenant(tenantA).Contains(tenantB))
}

func TestStampTenant(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()

	t.Run("defaults to caller tenant", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA}

		id, err := StampTenant(caller, nil)
		require.NoError(t, err)
		assert.Equal(t, tenantA, id)
	})

	t.Run("nil uuid treated as unset", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA}
		empty := uuid.Nil

		id, err := StampTenant(caller, &empty)
		require.NoError(t, err)
		assert.Equal(t, tenantA, id)
	})

	t.Run("same tenant allowed for non-privileged caller", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA}

		id, err := StampTenant(caller, &tenantA)
		require.NoError(t, err)
		assert.Equal(t, tenantA, id)
	})

	t.Run("different tenant rejected for non-privileged caller", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA}

		_, err := StampTenant(caller, &tenantB)
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("different tenant allowed for cross-tenant caller", func(t *testing.T) {
		caller := Caller{UserID: uuid.New(), TenantID: tenantA, CrossTenant: true}

		id, err := StampTenant(caller, &tenantB)
		require.NoError(t, err)
		assert.Equal(t, tenantB, id)
	})
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "code", Reason: "must match ^[A-Z0-9_]{2,20}$"}
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "code")
}

func TestRecordingFailure(t *testing.T) {
	inner := assert.AnError
	err := &RecordingFailure{Err: inner}
	assert.True(t, IsRecordingFailure(err))
	assert.ErrorIs(t, err, inner)
	assert.False(t, IsRecordingFailure(inner))
}

func TestMaintenanceError(t *testing.T) {
	err := &MaintenanceError{Pass: "archive", Items: []error{assert.AnError, assert.AnError}}
	assert.Contains(t, err.Error(), "archive pass")
	assert.Contains(t, err.Error(), "2 failures")
}
