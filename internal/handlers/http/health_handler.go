package http

import (
	"context"
	"net/http"
	"time"

	"voicerooms/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker      *monitoring.HealthChecker
	startTime    time.Time
	readyTimeout time.Duration
}

func NewHealthHandler(checker *monitoring.HealthChecker, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		checker:      checker,
		startTime:    startTime,
		readyTimeout: 2 * time.Second,
	}
}

// Health is the liveness probe. It reports the last background check round
// without running checks.
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.checker.LastStatus()
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
		"checks":    status.Checks,
	})
}

// Ready runs every dependency check now.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.readyTimeout)
	defer cancel()

	status := h.checker.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
