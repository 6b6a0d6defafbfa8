package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/retention"
)

// MaintenanceHandlers exposes the retention machinery over HTTP. The
// routes are mounted behind the cross-tenant requirement since they
// act on the whole audit trail.
type MaintenanceHandlers struct {
	runner  *retention.Runner
	manager *retention.Manager
	logger  *observability.Logger
}

// NewMaintenanceHandlers creates the maintenance handler group
func NewMaintenanceHandlers(runner *retention.Runner, manager *retention.Manager, logger *observability.Logger) *MaintenanceHandlers {
	return &MaintenanceHandlers{
		runner:  runner,
		manager: manager,
		logger:  logger,
	}
}

// RegisterRoutes mounts the maintenance routes
func (h *MaintenanceHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/maintenance/scheduler/status", h.handleStatus).Methods("GET")
	router.HandleFunc("/maintenance/storage/stats", h.handleStats).Methods("GET")
	router.HandleFunc("/maintenance/policy", h.handlePolicy).Methods("GET")

	router.HandleFunc("/maintenance/retention/apply", h.runJob(retention.JobRetention)).Methods("POST")
	router.HandleFunc("/maintenance/archive/create", h.runJob(retention.JobArchive)).Methods("POST")
	router.HandleFunc("/maintenance/archive/compress", h.runJob(retention.JobCompress)).Methods("POST")
	router.HandleFunc("/maintenance/backup/create", h.runJob(retention.JobBackup)).Methods("POST")
	router.HandleFunc("/maintenance/backup/cleanup", h.runJob(retention.JobCleanup)).Methods("POST")
}

func (h *MaintenanceHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.runner.Status())
}

func (h *MaintenanceHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to collect trail stats")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

func (h *MaintenanceHandlers) handlePolicy(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.manager.Policy())
}

func (h *MaintenanceHandlers) runJob(job string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := h.runner.RunNow(r.Context(), job)
		switch {
		case errors.Is(err, retention.ErrAlreadyRunning):
			httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
		case err != nil:
			h.logger.WithError(err).WithField("job", job).Error("maintenance run failed")
			httputil.WriteInternalError(w, err)
		default:
			httputil.WriteSuccess(w, report)
		}
	}
}
