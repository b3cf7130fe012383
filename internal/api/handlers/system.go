package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/pkg/utils"
	"github.com/frostdev-ops/botpanel-monitor/pkg/version"
)

// GetStatus returns the monitoring service status
func (h *Handlers) GetStatus(c *gin.Context) {
	status := h.service.GetStatus()
	status["version"] = version.GetBuildInfo()
	if h.wsHub != nil {
		status["websocket"] = h.wsHub.GetStats()
	}
	utils.SendSuccess(c, status)
}

// GetStatistics summarizes alerting and collection over ?range=
func (h *Handlers) GetStatistics(c *gin.Context) {
	timeRange, err := parseRange(c.Query("range"))
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	utils.SendSuccess(c, h.service.GetStatistics(timeRange))
}

// GetAuditLog lists recorded alert lifecycle events
func (h *Handlers) GetAuditLog(c *gin.Context) {
	if h.audit == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Audit log is not configured")
		return
	}

	limit, err := parseLimit(c, 100, 1000)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	events, err := h.audit.List(ctx, c.Query("kind"), limit)
	if err != nil {
		h.respondError(c, err, "retrieve audit log")
		return
	}
	utils.SendSuccessWithMeta(c, events, gin.H{"count": len(events), "limit": limit})
}

// GetHealth runs the component health checks
func (h *Handlers) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	report := h.service.Health(ctx)

	status := http.StatusOK
	if report.Status == metrics.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":     report.Status,
		"message":    report.Message,
		"timestamp":  report.Timestamp,
		"duration":   report.Duration.String(),
		"components": report.Components,
		"version":    version.GetVersion(),
	})
}

// GetLiveness reports that the process is serving requests
func (h *Handlers) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}
