// Package middleware provides HTTP middleware for caller identity,
// request metadata extraction, and metrics collection.
package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/scope"
)

// Headers carrying the authenticated caller identity. An upstream
// gateway is expected to validate credentials and set these.
const (
	HeaderUserID      = "X-Warden-User-ID"
	HeaderTenantID    = "X-Warden-Tenant-ID"
	HeaderCrossTenant = "X-Warden-Cross-Tenant"
)

// Identity extracts the caller from request headers and stores it in
// the request context. Requests without a complete identity are
// rejected with 401 before reaching any handler.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := uuid.Parse(r.Header.Get(HeaderUserID))
			if err != nil {
				httputil.WriteUnauthorized(w, "missing or invalid user identity")
				return
			}

			tenantID, err := uuid.Parse(r.Header.Get(HeaderTenantID))
			if err != nil {
				httputil.WriteUnauthorized(w, "missing or invalid tenant identity")
				return
			}

			caller := scope.Caller{
				UserID:      userID,
				TenantID:    tenantID,
				CrossTenant: isTruthy(r.Header.Get(HeaderCrossTenant)),
			}

			ctx := contextkeys.WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isTruthy(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	}
	return false
}
