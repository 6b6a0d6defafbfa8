package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/items"
	"github.com/wardenhq/warden/pkg/middleware"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/retention"
	"github.com/wardenhq/warden/pkg/tenants"
	"github.com/wardenhq/warden/pkg/users"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	recorder := audit.NewRecorder(db, logger, nil, nil)
	store := audit.NewStore(db)
	exporter := audit.NewExporter(store, recorder, 1000, 100000)
	feed := audit.NewFeed(nil, logger, nil)

	policy := retention.Policy{
		RetentionDays:       90,
		ArchiveAfterDays:    30,
		CompressAfterDays:   7,
		MaxLogSizeMB:        1000,
		BackupIntervalHours: 24,
	}
	manager := retention.NewManager(db, policy, t.TempDir(), t.TempDir(), logger, nil)
	runner := retention.NewRunner(manager, retention.DefaultSchedules(), logger, nil)

	server := NewServer(Deps{
		Tenants: tenants.NewHandler(tenants.NewService(db, logger, recorder), logger),
		Users:   users.NewHandler(users.NewService(db, logger, recorder), logger),
		Items:   items.NewHandler(items.NewService(db, logger, recorder), logger),
		Audit:   audit.NewHandler(store, recorder, exporter, feed, logger, 50, 100),
		Runner:  runner,
		Manager: manager,
		Logger:  logger,
	})
	return server, mock
}

func doServerRequest(t *testing.T, server *Server, method, path string, identify, crossTenant bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if identify {
		req.Header.Set(middleware.HeaderUserID, uuid.New().String())
		req.Header.Set(middleware.HeaderTenantID, uuid.New().String())
	}
	if crossTenant {
		req.Header.Set(middleware.HeaderCrossTenant, "true")
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestServerRequiresIdentity(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/api/v1/users", "/api/v1/items", "/api/v1/audit-logs", "/api/v1/tenants"} {
		rec := doServerRequest(t, server, http.MethodGet, path, false, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestServerTenantMutationsNeedCrossTenant(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doServerRequest(t, server, http.MethodPost, "/api/v1/tenants", true, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doServerRequest(t, server, http.MethodGet, "/api/v1/maintenance/scheduler/status", true, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServerTenantListScopedWithoutCapability(t *testing.T) {
	server, mock := newTestServer(t)
	tenantID := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tenants WHERE 1=1 AND id = \$1`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT .+ FROM tenants WHERE 1=1 AND id = \$1 ORDER BY created_at DESC`).
		WithArgs(tenantID, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	req.Header.Set(middleware.HeaderUserID, uuid.New().String())
	req.Header.Set(middleware.HeaderTenantID, tenantID.String())
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServerMaintenancePolicy(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doServerRequest(t, server, http.MethodGet, "/api/v1/maintenance/policy", true, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var policy retention.Policy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.Equal(t, 90, policy.RetentionDays)
	assert.Equal(t, 30, policy.ArchiveAfterDays)
}

func TestServerEchoesRequestID(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/maintenance/policy", nil)
	req.Header.Set(middleware.HeaderUserID, uuid.New().String())
	req.Header.Set(middleware.HeaderTenantID, uuid.New().String())
	req.Header.Set(middleware.HeaderCrossTenant, "true")
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServerScopedListQuery(t *testing.T) {
	server, mock := newTestServer(t)
	tenantID := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE 1=1 AND tenant_id = \$1`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT .+ FROM users WHERE 1=1 AND tenant_id = \$1 ORDER BY created_at DESC`).
		WithArgs(tenantID, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set(middleware.HeaderUserID, uuid.New().String())
	req.Header.Set(middleware.HeaderTenantID, tenantID.String())
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServerUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doServerRequest(t, server, http.MethodGet, "/api/v1/nope", true, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
