package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/items"
	"github.com/wardenhq/warden/pkg/middleware"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/retention"
	"github.com/wardenhq/warden/pkg/tenants"
	"github.com/wardenhq/warden/pkg/users"
)

// Deps collects everything the API server routes over. Runner and
// Manager are optional; without them the maintenance endpoints are
// not mounted.
type Deps struct {
	Tenants *tenants.Handler
	Users   *users.Handler
	Items   *items.Handler
	Audit   *audit.Handler
	Runner  *retention.Runner
	Manager *retention.Manager
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the admin API server
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer assembles the router with the middleware chain and all
// handler groups mounted under /api/v1.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
	}
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupRoutes(deps Deps) {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.RequestInfo())
	if deps.Metrics != nil {
		v1.Use(middleware.Metrics(deps.Metrics))
	}
	v1.Use(middleware.Identity())

	// Tenant administration requires the cross-tenant capability;
	// tenant reads stay open and the service scopes them per caller.
	admin := v1.NewRoute().Subrouter()
	admin.Use(middleware.RequireCrossTenant())
	if deps.Tenants != nil {
		deps.Tenants.RegisterRoutes(admin)
		deps.Tenants.RegisterReadRoutes(v1)
	}
	if deps.Runner != nil && deps.Manager != nil {
		NewMaintenanceHandlers(deps.Runner, deps.Manager, deps.Logger).RegisterRoutes(admin)
	}

	if deps.Users != nil {
		deps.Users.RegisterRoutes(v1)
	}
	if deps.Items != nil {
		deps.Items.RegisterRoutes(v1)
	}
	if deps.Audit != nil {
		deps.Audit.RegisterRoutes(v1)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is implemented by handler groups that mount routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes mounts an extra handler group under /api/v1
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router.PathPrefix("/api/v1").Subrouter())
}
