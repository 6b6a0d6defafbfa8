package items

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(db, logger, nil), mock
}

var itemTestColumns = []string{
	"id", "tenant_id", "owner_id", "name", "description",
	"status", "amount", "data", "created_at", "updated_at",
}

func itemRow(id, tenantID uuid.UUID) []driver.Value {
	now := time.Now().UTC()
	return []driver.Value{
		id.String(), tenantID.String(), nil, "Widget", "a widget",
		"active", 9.99, []byte(`{"sku":"W-1"}`), now, now,
	}
}

func expectQuotaCheck(mock sqlmock.Sqlmock, maxItems, current int) {
	mock.ExpectQuery(`SELECT max_items FROM tenants WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"max_items"}).AddRow(maxItems))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM items WHERE tenant_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(current))
}

func TestCreateOwnerIsCaller(t *testing.T) {
	service, mock := newTestService(t)
	tenantID := uuid.New()
	callerID := uuid.New()
	caller := scope.Caller{UserID: callerID, TenantID: tenantID}

	expectQuotaCheck(mock, 1000, 10)
	mock.ExpectExec(`INSERT INTO items`).WillReturnResult(sqlmock.NewResult(0, 1))

	item, err := service.Create(context.Background(), caller, CreateRequest{Name: "Widget"})
	require.NoError(t, err)

	assert.Equal(t, tenantID, item.TenantID)
	require.NotNil(t, item.OwnerID)
	assert.Equal(t, callerID, *item.OwnerID)
	assert.Equal(t, StatusActive, item.Status, "status defaults to active")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateValidation(t *testing.T) {
	service, _ := newTestService(t)
	caller := scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}
	negative := -1.0

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"empty name", CreateRequest{}, "name"},
		{"unknown status", CreateRequest{Name: "Widget", Status: "pending"}, "status"},
		{"negative amount", CreateRequest{Name: "Widget", Amount: &negative}, "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(context.Background(), caller, tt.req)
			var ve *scope.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCreateQuotaReached(t *testing.T) {
	service, mock := newTestService(t)
	caller := scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}

	expectQuotaCheck(mock, 10, 10)

	_, err := service.Create(context.Background(), caller, CreateRequest{Name: "Widget"})
	var ve *scope.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "quota")
}

func TestCreateForeignTenantDenied(t *testing.T) {
	service, _ := newTestService(t)
	caller := scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}
	other := uuid.New()

	_, err := service.Create(context.Background(), caller, CreateRequest{
		TenantID: &other,
		Name:     "Widget",
	})
	assert.ErrorIs(t, err, scope.ErrPermissionDenied)
}

func TestGetScopedNotFound(t *testing.T) {
	service, mock := newTestService(t)
	ownTenant := uuid.New()
	caller := scope.Caller{UserID: uuid.New(), TenantID: ownTenant}
	itemID := uuid.New()
	foreign := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM items WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(itemID, ownTenant).
		WillReturnRows(sqlmock.NewRows(itemTestColumns))

	_, err := service.Get(context.Background(), caller, &foreign, itemID)
	assert.ErrorIs(t, err, scope.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	service, mock := newTestService(t)
	tenantID := uuid.New()
	caller := scope.Caller{UserID: uuid.New(), TenantID: tenantID}
	itemID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM items WHERE id = \$1 AND tenant_id = \$2`).
		WillReturnRows(sqlmock.NewRows(itemTestColumns).AddRow(itemRow(itemID, tenantID)...))

	item, err := service.Get(context.Background(), caller, nil, itemID)
	require.NoError(t, err)

	assert.Equal(t, "Widget", item.Name)
	require.NotNil(t, item.Amount)
	assert.InDelta(t, 9.99, *item.Amount, 0.001)
	assert.Equal(t, map[string]interface{}{"sku": "W-1"}, item.Data)
}

func TestUpdatePartial(t *testing.T) {
	service, mock := newTestService(t)
	tenantID := uuid.New()
	caller := scope.Caller{UserID: uuid.New(), TenantID: tenantID}
	itemID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM items WHERE id = \$1 AND tenant_id = \$2`).
		WillReturnRows(sqlmock.NewRows(itemTestColumns).AddRow(itemRow(itemID, tenantID)...))
	mock.ExpectExec(`UPDATE items SET`).WillReturnResult(sqlmock.NewResult(0, 1))

	status := StatusArchived
	item, err := service.Update(context.Background(), caller, nil, itemID, UpdateRequest{Status: &status})
	require.NoError(t, err)

	assert.Equal(t, StatusArchived, item.Status)
	assert.Equal(t, "Widget", item.Name, "unspecified fields untouched")
}

func TestDelete(t *testing.T) {
	service, mock := newTestService(t)
	tenantID := uuid.New()
	caller := scope.Caller{UserID: uuid.New(), TenantID: tenantID}
	itemID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM items WHERE id = \$1 AND tenant_id = \$2`).
		WillReturnRows(sqlmock.NewRows(itemTestColumns).AddRow(itemRow(itemID, tenantID)...))
	mock.ExpectExec(`DELETE FROM items WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(itemID, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := service.Delete(context.Background(), caller, nil, itemID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFilters(t *testing.T) {
	service, mock := newTestService(t)
	tenantID := uuid.New()
	caller := scope.Caller{UserID: uuid.New(), TenantID: tenantID}
	status := StatusActive

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM items WHERE 1=1 AND tenant_id = \$1 AND status = \$2 AND \(name ILIKE \$3 OR description ILIKE \$3\)`).
		WithArgs(tenantID, "active", "%widget%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT .+ FROM items WHERE 1=1`).
		WillReturnRows(sqlmock.NewRows(itemTestColumns).AddRow(itemRow(uuid.New(), tenantID)...))

	result, total, err := service.List(context.Background(), caller, nil, ListFilter{
		Status: &status,
		Search: "widget",
		Limit:  25,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, result, 1)
}
