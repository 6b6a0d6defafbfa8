package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

// Handler exposes the audit trail over HTTP
type Handler struct {
	store    *Store
	recorder *Recorder
	exporter *Exporter
	feed     *Feed
	logger   *observability.Logger

	defaultPageLimit int
	maxPageLimit     int
}

// NewHandler creates the audit HTTP handler. feed may be nil to
// disable the live endpoint.
func NewHandler(store *Store, recorder *Recorder, exporter *Exporter, feed *Feed, logger *observability.Logger, defaultPageLimit, maxPageLimit int) *Handler {
	return &Handler{
		store:            store,
		recorder:         recorder,
		exporter:         exporter,
		feed:             feed,
		logger:           logger,
		defaultPageLimit: defaultPageLimit,
		maxPageLimit:     maxPageLimit,
	}
}

// RegisterRoutes mounts the audit endpoints on the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit-logs", h.handleRecord).Methods(http.MethodPost)
	router.HandleFunc("/audit-logs", h.handleSearch).Methods(http.MethodGet)
	router.HandleFunc("/audit-logs/export", h.handleExport).Methods(http.MethodGet)
	router.HandleFunc("/audit-logs/stats", h.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/audit-logs/feed", h.handleFeed).Methods(http.MethodGet)
	router.HandleFunc("/audit-logs/{id}", h.handleGet).Methods(http.MethodGet)
}

// recordRequest is the POST body for application-emitted events, such
// as logins and logouts reported by an upstream auth frontend.
type recordRequest struct {
	TenantID     *uuid.UUID             `json:"tenant_id,omitempty"`
	Action       Action                 `json:"action"`
	Severity     Severity               `json:"severity,omitempty"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	BeforeState  interface{}            `json:"before_state,omitempty"`
	AfterState   interface{}            `json:"after_state,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return
	}

	var req recordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenantID, err := scope.StampTenant(caller, req.TenantID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	userID := caller.UserID
	record, err := h.recorder.Record(r.Context(), Entry{
		TenantID:     tenantID,
		UserID:       &userID,
		Action:       req.Action,
		Severity:     req.Severity,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Message:      req.Message,
		BeforeState:  req.BeforeState,
		AfterState:   req.AfterState,
		Metadata:     req.Metadata,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, record)
}

// resolveScope computes the caller's effective tenant scope from the
// optional tenant_id query parameter. Non-privileged callers are
// always pinned to their own tenant regardless of what they request.
func resolveScope(w http.ResponseWriter, r *http.Request) (scope.Caller, scope.TenantScope, bool) {
	caller, ok := contextkeys.GetCaller(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "caller identity required")
		return scope.Caller{}, scope.TenantScope{}, false
	}
	requested, err := httputil.ParseQueryUUID(r, "tenant_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid tenant_id")
		return scope.Caller{}, scope.TenantScope{}, false
	}
	return caller, scope.Resolve(caller, requested), true
}

func (h *Handler) parseFilter(r *http.Request) (Filter, error) {
	filter := Filter{}

	userID, err := httputil.ParseQueryUUID(r, "user_id")
	if err != nil {
		return filter, fmt.Errorf("invalid user_id")
	}
	filter.UserID = userID

	for _, raw := range r.URL.Query()["action"] {
		action := Action(raw)
		if !action.Valid() {
			return filter, fmt.Errorf("unknown action %q", raw)
		}
		filter.Actions = append(filter.Actions, action)
	}

	for _, raw := range r.URL.Query()["severity"] {
		severity := Severity(raw)
		if !severity.Valid() {
			return filter, fmt.Errorf("unknown severity %q", raw)
		}
		filter.Severities = append(filter.Severities, severity)
	}

	filter.ResourceType = httputil.ParseQueryString(r, "resource_type", "")
	filter.ResourceID = httputil.ParseQueryString(r, "resource_id", "")
	filter.Search = httputil.ParseQueryString(r, "search", "")

	since, err := httputil.ParseQueryTime(r, "since")
	if err != nil {
		return filter, fmt.Errorf("invalid since timestamp")
	}
	filter.Since = since

	until, err := httputil.ParseQueryTime(r, "until")
	if err != nil {
		return filter, fmt.Errorf("invalid until timestamp")
	}
	filter.Until = until

	pagination, err := httputil.ParsePagination(r, h.defaultPageLimit, h.maxPageLimit)
	if err != nil {
		return filter, fmt.Errorf("invalid pagination")
	}
	filter.Skip = pagination.Skip
	filter.Limit = pagination.Limit

	return filter, nil
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	_, sc, ok := resolveScope(w, r)
	if !ok {
		return
	}

	filter, err := h.parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	records, total, err := h.store.Search(r.Context(), sc, filter)
	if err != nil {
		h.logger.WithError(err).Error("audit search failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteList(w, records, total)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	_, sc, ok := resolveScope(w, r)
	if !ok {
		return
	}

	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	record, err := h.store.Get(r.Context(), sc, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	_, sc, ok := resolveScope(w, r)
	if !ok {
		return
	}

	stats, err := h.store.GetStats(r.Context(), sc)
	if err != nil {
		h.logger.WithError(err).Error("audit stats failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	caller, sc, ok := resolveScope(w, r)
	if !ok {
		return
	}

	format, err := ParseFormat(httputil.ParseQueryString(r, "format", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter, err := h.parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	// Export walks the full result set itself
	filter.Skip = 0
	filter.Limit = 0

	filename := fmt.Sprintf("audit_logs_%s.%s", time.Now().UTC().Format("20060102T150405Z"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	written, err := h.exporter.Export(r.Context(), caller, sc, filter, format, w)
	if err != nil {
		// Headers are gone at this point, the best we can do is log
		h.logger.WithError(err).WithField("records_written", written).Error("audit export aborted")
	}
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	_, sc, ok := resolveScope(w, r)
	if !ok {
		return
	}
	if h.feed == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "live feed is not enabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	records, cancel := h.feed.Subscribe(sc, 64)
	defer cancel()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case record, ok := <-records:
			if !ok {
				return
			}
			payload, err := json.Marshal(record)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
