package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/botpanel-monitor/pkg/utils"
)

// ListSuppressions returns active suppressions ordered by expiry
func (h *Handlers) ListSuppressions(c *gin.Context) {
	suppressions := h.service.ListSuppressions()
	utils.SendSuccessWithMeta(c, suppressions, gin.H{"count": len(suppressions)})
}

// SuppressAlert mutes a rule for a duration
func (h *Handlers) SuppressAlert(c *gin.Context) {
	var request struct {
		RuleName string `json:"rule_name" binding:"required"`
		Duration string `json:"duration" binding:"required"`
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}

	d, err := parseRange(request.Duration)
	if err != nil || d <= 0 {
		badRequest(c, "duration must be positive, e.g. 30m or 1d")
		return
	}

	suppression, err := h.service.SuppressAlert(request.RuleName, d, request.Reason)
	if err != nil {
		h.respondError(c, err, "suppress rule")
		return
	}

	h.logger.WithField("rule", request.RuleName).WithField("until", suppression.ExpiresAt).Info("Alert rule suppressed")
	utils.SendCreated(c, suppression)
}

// GetSuppression reports whether a rule is suppressed
func (h *Handlers) GetSuppression(c *gin.Context) {
	rule := c.Param("rule")
	suppression, ok := h.service.GetSuppression(rule)
	if !ok {
		utils.SendSuccess(c, gin.H{"rule_name": rule, "suppressed": false})
		return
	}
	utils.SendSuccess(c, gin.H{
		"rule_name":   rule,
		"suppressed":  true,
		"suppression": suppression,
	})
}

// UnsuppressAlert lifts a suppression
func (h *Handlers) UnsuppressAlert(c *gin.Context) {
	rule := c.Param("rule")
	if !h.service.UnsuppressAlert(rule) {
		utils.SendError(c, http.StatusNotFound, "Rule is not suppressed")
		return
	}
	h.logger.WithField("rule", rule).Info("Alert rule suppression lifted")
	utils.SendSuccess(c, gin.H{"rule_name": rule, "suppressed": false})
}
