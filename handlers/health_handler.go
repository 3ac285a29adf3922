package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/services/circuitbreaker"
	"github.com/ScientiaCapital/sales-agent-sub004/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Pinger is implemented by the Redis response cache
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerSource exposes the circuit breaker snapshots of every provider
type BreakerSource interface {
	Breakers() []circuitbreaker.Snapshot
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db       *sql.DB
	cache    Pinger
	breakers BreakerSource
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. Every dependency is optional.
func NewHealthHandler(db *sql.DB, cache Pinger, breakers BreakerSource, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		cache:    cache,
		breakers: breakers,
		logger:   logger,
	}
}

// HandleHealth handles GET /health
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /health/ready
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db == nil {
		checks["database"] = "disabled"
	} else if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.cache == nil {
		checks["cache"] = "disabled"
	} else if err := h.cache.Ping(ctx); err != nil {
		h.logger.Warn("cache health check failed", zap.Error(err))
		checks["cache"] = "unhealthy"
		allHealthy = false
	} else {
		checks["cache"] = "healthy"
	}

	// A dispatcher whose every circuit is open cannot serve traffic
	if h.breakers != nil {
		snaps := h.breakers.Breakers()
		open := 0
		for _, s := range snaps {
			if s.State == circuitbreaker.StateOpen {
				open++
			}
		}
		switch {
		case len(snaps) == 0:
			checks["providers"] = "none_configured"
			allHealthy = false
		case open == len(snaps):
			checks["providers"] = "all_circuits_open"
			allHealthy = false
		case open > 0:
			checks["providers"] = "degraded"
		default:
			checks["providers"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
