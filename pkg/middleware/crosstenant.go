package middleware

import (
	"net/http"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
)

// RequireCrossTenant restricts a route to callers holding the
// cross-tenant capability. Used for registry administration and
// maintenance endpoints.
func RequireCrossTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := contextkeys.GetCaller(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "caller identity required")
				return
			}
			if !caller.CrossTenant {
				httputil.WriteForbidden(w, "cross-tenant capability required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
