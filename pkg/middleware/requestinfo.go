package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/contextkeys"
)

const (
	headerRequestID = "X-Request-ID"
	headerSessionID = "X-Warden-Session-ID"
)

// RequestInfo extracts client metadata (IP, user agent, session id) and
// assigns a request id when the caller did not supply one. The request
// id is echoed back in the response headers for correlation.
func RequestInfo() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(headerRequestID, requestID)

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = contextkeys.WithClientIP(ctx, clientIP(r))
			ctx = contextkeys.WithUserAgent(ctx, r.UserAgent())

			if sessionID := r.Header.Get(headerSessionID); sessionID != "" {
				ctx = contextkeys.WithSessionID(ctx, sessionID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP resolves the originating client address, trusting proxy
// headers in order of specificity.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// First address in the chain is the original client
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
