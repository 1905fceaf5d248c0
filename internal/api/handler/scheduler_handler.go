package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// TriggerTick handles POST /api/v1/scheduler/trigger
// Runs one tick synchronously and returns its report
func (h *SchedulerHandler) TriggerTick(c *gin.Context) {
	h.logger.Info("Manual tick requested", slog.String("ip", c.ClientIP()))

	report, err := h.scheduler.TriggerNow(c.Request.Context())
	if err != nil {
		h.logger.Error("Manual tick failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Tick abandoned",
			"report": report,
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetStatus handles GET /api/v1/scheduler/status
func (h *SchedulerHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}
