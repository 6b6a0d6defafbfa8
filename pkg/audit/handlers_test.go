package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/scope"
)

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	recorder := NewRecorder(db, testLogger(), nil, nil)
	exporter := NewExporter(store, nil, 100, 1000)
	return NewHandler(store, recorder, exporter, nil, testLogger(), 100, 1000), mock
}

func doRequest(handler *Handler, caller *scope.Caller, target string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if caller != nil {
		req = req.WithContext(contextkeys.WithCaller(req.Context(), *caller))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleSearchPinsTenant(t *testing.T) {
	handler, mock := newTestHandler(t)

	ownTenant := uuid.New()
	otherTenant := uuid.New()
	caller := &scope.Caller{UserID: uuid.New(), TenantID: ownTenant}

	// The query must be pinned to the caller's tenant even though the
	// request asked for a different one.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs`).
		WithArgs(ownTenant).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT .+ FROM audit_logs`).
		WithArgs(ownTenant, 100).
		WillReturnRows(sqlmock.NewRows(storeColumns))

	rec := doRequest(handler, caller, "/audit-logs?tenant_id="+otherTenant.String())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSearchRequiresCaller(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doRequest(handler, nil, "/audit-logs")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSearchRejectsBadTenantFilter(t *testing.T) {
	handler, mock := newTestHandler(t)
	caller := &scope.Caller{UserID: uuid.New(), TenantID: uuid.New(), CrossTenant: true}
	rec := doRequest(handler, caller, "/audit-logs?tenant_id=not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet(), "a bad filter never widens the search")
}

func TestHandleSearchRejectsUnknownAction(t *testing.T) {
	handler, _ := newTestHandler(t)
	caller := &scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}
	rec := doRequest(handler, caller, "/audit-logs?action=DESTROY")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetNotFound(t *testing.T) {
	handler, mock := newTestHandler(t)
	caller := &scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}
	recordID := uuid.New()

	mock.ExpectQuery(`WHERE id = \$1 AND tenant_id = \$2`).
		WillReturnRows(sqlmock.NewRows(storeColumns))

	rec := doRequest(handler, caller, "/audit-logs/"+recordID.String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGet(t *testing.T) {
	handler, mock := newTestHandler(t)
	tenantID := uuid.New()
	caller := &scope.Caller{UserID: uuid.New(), TenantID: tenantID}
	recordID := uuid.New()

	mock.ExpectQuery(`WHERE id = \$1 AND tenant_id = \$2`).
		WillReturnRows(sqlmock.NewRows(storeColumns).
			AddRow(recordRow(recordID, tenantID, ActionCreate, time.Now().UTC())...))

	rec := doRequest(handler, caller, "/audit-logs/"+recordID.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var record Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, recordID, record.ID)
}

func TestHandleExportSetsHeaders(t *testing.T) {
	handler, mock := newTestHandler(t)
	tenantID := uuid.New()
	caller := &scope.Caller{UserID: uuid.New(), TenantID: tenantID}

	mock.ExpectQuery(`SELECT .+ FROM audit_logs`).
		WillReturnRows(sqlmock.NewRows(storeColumns))

	rec := doRequest(handler, caller, "/audit-logs/export?format=ndjson")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
}

func TestHandleExportRejectsUnknownFormat(t *testing.T) {
	handler, _ := newTestHandler(t)
	caller := &scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}
	rec := doRequest(handler, caller, "/audit-logs/export?format=xml")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStats(t *testing.T) {
	handler, mock := newTestHandler(t)
	tenantID := uuid.New()
	caller := &scope.Caller{UserID: uuid.New(), TenantID: tenantID}

	mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(created_at\), MAX\(created_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(5, nil, nil))
	mock.ExpectQuery(`GROUP BY action`).
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).AddRow("VIEW", 5))
	mock.ExpectQuery(`GROUP BY severity`).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).AddRow("INFO", 5))

	rec := doRequest(handler, caller, "/audit-logs/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(5), stats.TotalRecords)
	assert.Nil(t, stats.OldestRecord)
}

func postRequest(handler *Handler, caller *scope.Caller, target, body string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req = req.WithContext(contextkeys.WithCaller(req.Context(), *caller))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleRecord(t *testing.T) {
	handler, mock := newTestHandler(t)
	caller := &scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}

	mock.ExpectExec(`(?s)INSERT INTO audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"action":"LOGIN","resource_type":"session","message":"user signed in"}`
	rec := postRequest(handler, caller, "/audit-logs", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var record Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, caller.TenantID, record.TenantID)
	require.NotNil(t, record.UserID)
	assert.Equal(t, caller.UserID, *record.UserID)
	assert.Equal(t, ActionLogin, record.Action)
	assert.Equal(t, SeverityInfo, record.Severity, "severity defaults to INFO")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleRecordForeignTenantDenied(t *testing.T) {
	handler, _ := newTestHandler(t)
	caller := &scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}

	body := `{"action":"LOGIN","resource_type":"session","tenant_id":"` + uuid.New().String() + `"}`
	rec := postRequest(handler, caller, "/audit-logs", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleRecordInvalidAction(t *testing.T) {
	handler, _ := newTestHandler(t)
	caller := &scope.Caller{UserID: uuid.New(), TenantID: uuid.New()}

	body := `{"action":"SHRED","resource_type":"session"}`
	rec := postRequest(handler, caller, "/audit-logs", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
