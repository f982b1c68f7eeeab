package handlers

import (
	"bookmart/logger"
	"context"
	"github.com/gin-gonic/gin"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

func (h *Handler) HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadyzHandler reports 503 until both MySQL and Redis answer a ping.
func (h *Handler) ReadyzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := gin.H{"database": "ok", "redis": "ok"}
	ready := true
	log := logger.Ctx(ctx)

	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		log.Warn().Err(err).Msg("readiness: database ping failed")
		checks["database"] = "unavailable"
		ready = false
	}

	if err := h.Redis.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("readiness: redis ping failed")
		checks["redis"] = "unavailable"
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
