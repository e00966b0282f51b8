package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"github.com/crmkit/broadcast-service/pkg/redis"
)

// triggerState reports whether the processor trigger loop is live.
type triggerState interface {
	IsRunning() bool
}

// HealthHandler handles health checks.
type HealthHandler struct {
	db           *sqlx.DB
	redis        *redis.Client
	trigger      triggerState
	checkTimeout time.Duration
}

func NewHealthHandler(db *sqlx.DB, redisClient *redis.Client, trigger triggerState) *HealthHandler {
	return &HealthHandler{
		db:           db,
		redis:        redisClient,
		trigger:      trigger,
		checkTimeout: 2 * time.Second,
	}
}

// Health returns overall status and per-component statuses: database and
// Redis connectivity plus the processor trigger's run state. A stopped
// trigger degrades the service because due items pile up until it restarts.
// @Summary Health check
// @Description Returns overall status with database, Redis and processor trigger states
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	overallStatus := "ok"

	dbStatus := "up"
	if h.db == nil {
		dbStatus = "down"
		overallStatus = "down"
	} else if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "down"
		overallStatus = "down"
	}

	redisStatus := "disabled"
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			redisStatus = "down"
			overallStatus = "degraded"
		} else {
			redisStatus = "up"
		}
	}

	triggerStatus := "disabled"
	if h.trigger != nil {
		if h.trigger.IsRunning() {
			triggerStatus = "running"
		} else {
			triggerStatus = "stopped"
			if overallStatus == "ok" {
				overallStatus = "degraded"
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"components": map[string]any{
			"database": map[string]any{
				"status": dbStatus,
			},
			"redis": map[string]any{
				"status": redisStatus,
			},
			"trigger": map[string]any{
				"status": triggerStatus,
			},
		},
	})
}
