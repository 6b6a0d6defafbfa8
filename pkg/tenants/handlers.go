package tenants

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
)

// Handler exposes the tenant registry over HTTP. Mutations mount
// behind the cross-tenant capability check; reads are open to every
// caller and the service scopes them to the caller's own tenant.
type Handler struct {
	service *Service
	logger  *observability.Logger
}

// NewHandler creates the tenant HTTP handler
func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the registry mutation endpoints on the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{id}", h.handleUpdate).Methods(http.MethodPatch)
	router.HandleFunc("/tenants/{id}", h.handleDelete).Methods(http.MethodDelete)
}

// RegisterReadRoutes mounts the scoped read endpoints on the router
func (h *Handler) RegisterReadRoutes(router *mux.Router) {
	router.HandleFunc("/tenants", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/tenants/code/{code}", h.handleGetByCode).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{id}", h.handleGet).Methods(http.MethodGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return
	}

	var req CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, tenant)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return
	}

	pagination, err := httputil.ParsePagination(r, 100, 1000)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid pagination")
		return
	}

	filter := ListFilter{
		Search: httputil.ParseQueryString(r, "search", ""),
		Skip:   pagination.Skip,
		Limit:  pagination.Limit,
	}
	if raw := httputil.ParseQueryString(r, "active", ""); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}

	result, total, err := h.service.List(r.Context(), caller, filter)
	if err != nil {
		h.logger.WithError(err).Error("tenant list failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteList(w, result, total)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return
	}

	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	tenant, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}

func (h *Handler) handleGetByCode(w http.ResponseWriter, r *http.Request) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return
	}

	code := mux.Vars(r)["code"]

	tenant, err := h.service.GetByCode(r.Context(), caller, code)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return
	}

	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, err := h.service.Update(r.Context(), caller, id, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return
	}

	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), caller, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
