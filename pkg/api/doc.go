// Package api assembles the Warden HTTP surface.
//
// # Overview
//
// The server mounts every handler group under /api/v1 behind a shared
// middleware chain:
//
//   - RequestInfo stamps a request ID, client IP, user agent, and
//     optional session ID into the request context
//   - Metrics records per-route request counts and latency
//   - Identity resolves the caller from the X-Warden-* headers and
//     rejects requests without a valid identity
//
// Tenant administration and the maintenance endpoints additionally
// require the cross-tenant capability; everything else is pinned to
// the caller's own tenant by the service layer.
//
// # Key Types
//
// Server coordinates the router:
//
//	server := api.NewServer(api.Deps{
//		Tenants: tenantHandlers,
//		Users:   userHandlers,
//		Items:   itemHandlers,
//		Audit:   auditHandlers,
//		Logger:  logger,
//	})
//	http.ListenAndServe(":8080", server)
//
// The health and metrics endpoints are served separately so probe
// traffic never mixes with the admin API; see the observability
// package.
package api
