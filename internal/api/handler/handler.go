// Package handler provides HTTP handlers for the ops API: health checks,
// manual scheduler runs, and instant notifications.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberlog/streakd/internal/api/respond"
	"github.com/emberlog/streakd/internal/config"
	"github.com/emberlog/streakd/internal/notify"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	pool      *pgxpool.Pool
	cfg       *config.Config
	scheduler *notify.Scheduler
	instant   *notify.Instant
}

// New creates a Handler with shared dependencies.
func New(pool *pgxpool.Pool, cfg *config.Config, scheduler *notify.Scheduler, instant *notify.Instant) *Handler {
	return &Handler{
		pool:      pool,
		cfg:       cfg,
		scheduler: scheduler,
		instant:   instant,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns service name, version, and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Streakd Notification Service",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	var n int
	err := h.pool.QueryRow(r.Context(), "health_check").Scan(&n)
	if err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// TriggerRun runs the streak scheduler immediately and returns the summary.
// @Summary Trigger a scheduler run
// @Description Runs one streak-expiration notification pass and returns its summary.
// @Tags scheduler
// @Produce json
// @Success 200 {object} notify.RunSummary
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/runs [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunOnce(r.Context(), time.Now().UTC())
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "RUN_FAILED", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, summary)
}

// SendInstant dispatches a single event-driven notification synchronously.
// @Summary Send an instant notification
// @Description Sends a friend_request or friend_accepted push to one user.
// @Tags notifications
// @Accept json
// @Produce json
// @Success 200 {object} notify.InstantResult
// @Failure 400 {object} respond.ErrorResponse
// @Failure 502 {object} respond.ErrorResponse
// @Router /api/v1/notifications/instant [post]
func (h *Handler) SendInstant(w http.ResponseWriter, r *http.Request) {
	var req notify.InstantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON")
		return
	}
	if req.UserID == "" || req.Type == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_FIELDS", "user_id and type are required")
		return
	}

	result, err := h.instant.Send(r.Context(), req)
	if err != nil {
		respond.WriteError(w, http.StatusBadGateway, "SEND_FAILED", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, result)
}
