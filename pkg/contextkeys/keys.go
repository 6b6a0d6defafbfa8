// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import (
	"context"

	"github.com/wardenhq/warden/pkg/scope"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// CallerKey contains scope.Caller
	// Set by: middleware.Identity (pkg/middleware/identity.go)
	// Required by: all scoped API endpoints
	CallerKey Key = "caller"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestInfo
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// ClientIPKey contains the client IP string
	// Set by: middleware.RequestInfo
	// Used by: audit recorder metadata
	ClientIPKey Key = "client_ip"

	// UserAgentKey contains the client user agent string
	// Set by: middleware.RequestInfo
	// Used by: audit recorder metadata
	UserAgentKey Key = "user_agent"

	// SessionIDKey contains the caller's session id, when supplied
	// Set by: middleware.RequestInfo
	// Used by: audit recorder
	SessionIDKey Key = "session_id"
)

// WithCaller adds the authenticated caller to the context
func WithCaller(ctx context.Context, caller scope.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// GetCaller retrieves the authenticated caller from context
func GetCaller(ctx context.Context) (scope.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(scope.Caller)
	return caller, ok
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithClientIP adds the client IP to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the client IP from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}

// WithUserAgent adds the user agent to the context
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, UserAgentKey, ua)
}

// GetUserAgent retrieves the user agent from context
func GetUserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(UserAgentKey).(string); ok {
		return ua
	}
	return ""
}

// WithSessionID adds the session id to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID retrieves the session id from context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}
