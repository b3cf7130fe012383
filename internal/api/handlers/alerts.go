package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/api/middleware"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/botpanel-monitor/pkg/utils"
)

// GetAlerts filters retained alerts by metric or severity. Without a filter it
// returns the history.
func (h *Handlers) GetAlerts(c *gin.Context) {
	metric := c.Query("metric")
	severity := monitoring.AlertSeverity(c.Query("severity"))

	var alerts []monitoring.Alert
	switch {
	case metric != "" && severity != "":
		badRequest(c, "filter by metric or severity, not both")
		return
	case metric != "":
		alerts = h.service.GetAlertsByMetric(metric)
	case severity != "":
		if !severity.Valid() {
			badRequest(c, "unknown severity %q", severity)
			return
		}
		alerts = h.service.GetAlertsBySeverity(severity)
	default:
		h.GetAlertHistory(c)
		return
	}

	utils.SendSuccessWithMeta(c, alerts, gin.H{"count": len(alerts)})
}

// GetActiveAlerts returns alerts in the active state
func (h *Handlers) GetActiveAlerts(c *gin.Context) {
	alerts := h.service.GetActiveAlerts()
	utils.SendSuccessWithMeta(c, alerts, gin.H{"count": len(alerts)})
}

// GetPendingAlerts returns alerts still inside their hysteresis duration
func (h *Handlers) GetPendingAlerts(c *gin.Context) {
	alerts := h.service.GetPendingAlerts()
	utils.SendSuccessWithMeta(c, alerts, gin.H{"count": len(alerts)})
}

// GetAlertHistory returns retained alerts newest first
func (h *Handlers) GetAlertHistory(c *gin.Context) {
	limit, err := parseLimit(c, 100, 1000)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	alerts := h.service.GetAlertHistory(limit)
	utils.SendSuccessWithMeta(c, alerts, gin.H{
		"count": len(alerts),
		"limit": limit,
	})
}

// GetAlert returns one alert
func (h *Handlers) GetAlert(c *gin.Context) {
	alert, err := h.service.GetAlert(c.Param("id"))
	if err != nil {
		h.respondError(c, err, "retrieve alert")
		return
	}
	utils.SendSuccess(c, alert)
}

// ResolveAlert resolves an alert by hand
func (h *Handlers) ResolveAlert(c *gin.Context) {
	var request struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			badRequest(c, "invalid request body: %v", err)
			return
		}
	}
	if request.ResolvedBy == "" {
		request.ResolvedBy = c.GetString(middleware.ContextSubject)
	}

	alert, err := h.service.ResolveAlert(c.Param("id"), request.ResolvedBy)
	if err != nil {
		h.respondError(c, err, "resolve alert")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"alert_id":    alert.ID,
		"rule":        alert.RuleName,
		"resolved_by": alert.ResolvedBy,
	}).Info("Alert resolved manually")

	utils.SendSuccess(c, alert)
}
