package users

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

// Handler exposes user operations over HTTP
type Handler struct {
	service *Service
	logger  *observability.Logger
}

// NewHandler creates the user HTTP handler
func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the user endpoints on the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/users", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}", h.handleUpdate).Methods(http.MethodPatch)
	router.HandleFunc("/users/{id}", h.handleDelete).Methods(http.MethodDelete)
}

// callerAndTenant pulls the caller and the optional tenant_id query
// parameter used by privileged callers to look across tenants.
func callerAndTenant(w http.ResponseWriter, r *http.Request) (scope.Caller, *uuid.UUID, bool) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return scope.Caller{}, nil, false
	}
	requested, err := httputil.ParseQueryUUID(r, "tenant_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid tenant_id")
		return scope.Caller{}, nil, false
	}
	return caller, requested, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := callerAndTenant(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	caller, requested, ok := callerAndTenant(w, r)
	if !ok {
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
	if raw := httputil.ParseQueryString(r, "role", ""); raw != "" {
		role := Role(raw)
		if !role.Valid() {
			httputil.WriteBadRequest(w, "unknown role")
			return
		}
		filter.Role = &role
	}
	if raw := httputil.ParseQueryString(r, "active", ""); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}

	result, total, err := h.service.List(r.Context(), caller, requested, filter)
	if err != nil {
		h.logger.WithError(err).Error("user list failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteList(w, result, total)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, requested, ok := callerAndTenant(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.service.Get(r.Context(), caller, requested, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, requested, ok := callerAndTenant(w, r)
	if !ok {
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

	user, err := h.service.Update(r.Context(), caller, requested, id, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, requested, ok := callerAndTenant(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), caller, requested, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
