package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/realty-dashboard/services/audit"
	"github.com/upb/realty-dashboard/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Workspaces int               `json:"workspaces"`
	Checks     map[string]string `json:"checks,omitempty"`
}

// WorkspaceCounter reports how many browser workspaces are live.
// *workspace.Registry satisfies it.
type WorkspaceCounter interface {
	Len() int
}

// AuditQueue reports the state of the asynchronous audit writer.
type AuditQueue interface {
	GetStats() audit.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db         *sql.DB
	workspaces WorkspaceCounter
	audit      AuditQueue
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when no
// database is configured.
func NewHealthHandler(db *sql.DB, workspaces WorkspaceCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:         db,
		workspaces: workspaces,
		logger:     logger,
	}
}

// WithAuditQueue adds the audit writer to the readiness checks.
func (h *HealthHandler) WithAuditQueue(q AuditQueue) *HealthHandler {
	h.audit = q
	return h
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Workspaces: h.liveWorkspaces(),
	})
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch err := h.checkDatabase(ctx); {
	case h.db == nil:
		checks["database"] = "disabled"
	case err != nil:
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	default:
		checks["database"] = "healthy"
	}

	if h.audit != nil {
		stats := h.audit.GetStats()
		switch {
		case !stats.Started:
			checks["audit"] = "stopped"
			allHealthy = false
		case stats.PendingEvents*10 >= stats.BufferSize*9:
			// nearly full; new events are about to be dropped
			checks["audit"] = "backlogged"
		default:
			checks["audit"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Workspaces: h.liveWorkspaces(),
		Checks:     checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) liveWorkspaces() int {
	if h.workspaces == nil {
		return 0
	}
	return h.workspaces.Len()
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
