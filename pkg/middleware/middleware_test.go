package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

func TestIdentity(t *testing.T) {
	userID := uuid.New()
	tenantID := uuid.New()

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantCaller *scope.Caller
	}{
		{
			name: "valid identity",
			headers: map[string]string{
				HeaderUserID:   userID.String(),
				HeaderTenantID: tenantID.String(),
			},
			wantStatus: http.StatusOK,
			wantCaller: &scope.Caller{UserID: userID, TenantID: tenantID},
		},
		{
			name: "cross tenant flag",
			headers: map[string]string{
				HeaderUserID:      userID.String(),
				HeaderTenantID:    tenantID.String(),
				HeaderCrossTenant: "true",
			},
			wantStatus: http.StatusOK,
			wantCaller: &scope.Caller{UserID: userID, TenantID: tenantID, CrossTenant: true},
		},
		{
			name:       "missing user header",
			headers:    map[string]string{HeaderTenantID: tenantID.String()},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "malformed tenant header",
			headers: map[string]string{
				HeaderUserID:   userID.String(),
				HeaderTenantID: "not-a-uuid",
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *scope.Caller
			handler := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if caller, ok := contextkeys.GetCaller(r.Context()); ok {
					captured = &caller
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCaller != nil {
				require.NotNil(t, captured)
				assert.Equal(t, *tt.wantCaller, *captured)
			} else {
				assert.Nil(t, captured)
			}
		})
	}
}

func TestRequestInfo(t *testing.T) {
	var gotIP, gotUA, gotRequestID, gotSession string
	handler := RequestInfo()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = contextkeys.GetClientIP(r.Context())
		gotUA = contextkeys.GetUserAgent(r.Context())
		gotRequestID = contextkeys.GetRequestID(r.Context())
		gotSession = contextkeys.GetSessionID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "warden-test/1.0")
	req.Header.Set(headerSessionID, "sess-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "203.0.113.7", gotIP)
	assert.Equal(t, "warden-test/1.0", gotUA)
	assert.Equal(t, "sess-42", gotSession)
	require.NotEmpty(t, gotRequestID)
	assert.Equal(t, gotRequestID, rec.Header().Get(headerRequestID))
}

func TestRequestInfoGeneratesRequestID(t *testing.T) {
	handler := RequestInfo()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	id := rec.Header().Get(headerRequestID)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "198.51.100.4"}, "10.0.0.1:1234", "198.51.100.4"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.9"}, "10.0.0.1:1234", "198.51.100.9"},
		{"remote addr", nil, "192.0.2.1:5678", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestRequireCrossTenant(t *testing.T) {
	handler := RequireCrossTenant()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("no caller", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tenant-bound caller", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := contextkeys.WithCaller(req.Context(), scope.Caller{UserID: uuid.New(), TenantID: uuid.New()})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("privileged caller", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := contextkeys.WithCaller(req.Context(), scope.Caller{UserID: uuid.New(), TenantID: uuid.New(), CrossTenant: true})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := observability.NewMetrics(registry)

	handler := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/items", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	families, err := registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "warden_http_requests_total" {
			found = true
		}
	}
	assert.True(t, found, "expected request counter to be registered")
}
