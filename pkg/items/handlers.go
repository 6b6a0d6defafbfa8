package items

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

// Handler exposes item operations over HTTP
type Handler struct {
	service *Service
	logger  *observability.Logger
}

// NewHandler creates the item HTTP handler
func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the item endpoints on the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/items", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/items", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/items/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/items/{id}", h.handleUpdate).Methods(http.MethodPatch)
	router.HandleFunc("/items/{id}", h.handleDelete).Methods(http.MethodDelete)
}

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

	item, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, item)
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
	if raw := httputil.ParseQueryString(r, "status", ""); raw != "" {
		status := Status(raw)
		if !status.Valid() {
			httputil.WriteBadRequest(w, "unknown status")
			return
		}
		filter.Status = &status
	}
	ownerID, err := httputil.ParseQueryUUID(r, "owner_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid owner_id")
		return
	}
	filter.OwnerID = ownerID

	result, total, err := h.service.List(r.Context(), caller, requested, filter)
	if err != nil {
		h.logger.WithError(err).Error("item list failed")
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

	item, err := h.service.Get(r.Context(), caller, requested, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
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

	item, err := h.service.Update(r.Context(), caller, requested, id, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
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
