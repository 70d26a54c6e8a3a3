// Package handler provides HTTP handlers for all API endpoints.
// Handlers call the scheduler, dispatcher and execution store directly;
// there is no service layer.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/albapepper/race-alerts/internal/api/respond"
	"github.com/albapepper/race-alerts/internal/cache"
	"github.com/albapepper/race-alerts/internal/config"
	"github.com/albapepper/race-alerts/internal/delay"
	"github.com/albapepper/race-alerts/internal/notifications"
)

// Planner evaluates and runs scheduling. *notifications.Scheduler implements it.
type Planner interface {
	Plan(ctx context.Context) ([]notifications.Evaluation, int, error)
	Run(ctx context.Context) notifications.RunResult
}

// PayloadDispatcher sends one stored payload. *notifications.Dispatcher implements it.
type PayloadDispatcher interface {
	Dispatch(ctx context.Context, raw json.RawMessage) notifications.DispatchResult
}

// ExecutionStore lists stored executions. *delay.Store implements it.
type ExecutionStore interface {
	Pending(ctx context.Context, limit int) ([]delay.Execution, error)
	StatusCounts(ctx context.Context) (map[string]int, error)
}

// HealthChecker pings the database. *db.Pool implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the handler dependencies. Executions and DB are nil when the
// delay backend is not Postgres.
type Deps struct {
	Scheduler  Planner
	Dispatcher PayloadDispatcher
	Executions ExecutionStore
	DB         HealthChecker
	Cache      *cache.Cache
	Config     *config.Config
	Logger     *slog.Logger
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	scheduler  Planner
	dispatcher PayloadDispatcher
	executions ExecutionStore
	db         HealthChecker
	cache      *cache.Cache
	cfg        *config.Config
	logger     *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := d.Cache
	if c == nil {
		c = cache.New(false)
	}
	return &Handler{
		scheduler:  d.Scheduler,
		dispatcher: d.Dispatcher,
		executions: d.Executions,
		db:         d.DB,
		cache:      c,
		cfg:        d.Config,
		logger:     logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status, and the active race source and delay backend.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"name":          "Race Alerts API",
		"version":       "1.0.0",
		"status":        "running",
		"docs":          "/docs",
		"season":        h.cfg.SeasonYear,
		"source":        h.cfg.ScheduleSource,
		"delay_backend": h.cfg.DelayBackend,
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity and reports execution counts by status.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respond.JSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"database":  "not configured",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		respond.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	body := map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.executions != nil {
		if counts, err := h.executions.StatusCounts(r.Context()); err == nil {
			body["executions"] = counts
		}
	}
	respond.JSON(w, http.StatusOK, body)
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
