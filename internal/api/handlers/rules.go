package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/botpanel-monitor/pkg/utils"
)

// ruleRequest accepts a rule with an optional human duration ("5m") and an
// enabled flag that defaults to true
type ruleRequest struct {
	monitoring.AlertRule
	Enabled  *bool  `json:"enabled"`
	Duration string `json:"duration"`
}

func (r ruleRequest) toRule() (monitoring.AlertRule, error) {
	rule := r.AlertRule
	rule.Enabled = r.Enabled == nil || *r.Enabled
	if r.Duration != "" {
		d, err := time.ParseDuration(r.Duration)
		if err != nil {
			return rule, err
		}
		rule.DurationMs = d.Milliseconds()
	}
	return rule, nil
}

func (h *Handlers) bindRule(c *gin.Context) (monitoring.AlertRule, bool) {
	var request ruleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return monitoring.AlertRule{}, false
	}
	rule, err := request.toRule()
	if err != nil {
		badRequest(c, "invalid duration: %v", err)
		return monitoring.AlertRule{}, false
	}
	return rule, true
}

// GetRules returns every rule ordered by name
func (h *Handlers) GetRules(c *gin.Context) {
	rules := h.service.GetRules()
	utils.SendSuccessWithMeta(c, rules, gin.H{"count": len(rules)})
}

// GetRule returns one rule
func (h *Handlers) GetRule(c *gin.Context) {
	rule, err := h.service.GetRule(c.Param("name"))
	if err != nil {
		h.respondError(c, err, "retrieve rule")
		return
	}
	utils.SendSuccess(c, rule)
}

// CreateRule adds a rule
func (h *Handlers) CreateRule(c *gin.Context) {
	rule, ok := h.bindRule(c)
	if !ok {
		return
	}

	if err := h.service.AddRule(rule); err != nil {
		h.respondError(c, err, "create rule")
		return
	}

	created, err := h.service.GetRule(rule.Name)
	if err != nil {
		h.respondError(c, err, "create rule")
		return
	}
	h.logger.WithField("rule", rule.Name).Info("Alert rule created")
	utils.SendCreated(c, created)
}

// UpdateRule replaces a rule
func (h *Handlers) UpdateRule(c *gin.Context) {
	name := c.Param("name")
	rule, ok := h.bindRule(c)
	if !ok {
		return
	}
	if rule.Name == "" {
		rule.Name = name
	}

	if err := h.service.UpdateRule(name, rule); err != nil {
		h.respondError(c, err, "update rule")
		return
	}

	updated, err := h.service.GetRule(name)
	if err != nil {
		h.respondError(c, err, "update rule")
		return
	}
	h.logger.WithField("rule", name).Info("Alert rule updated")
	utils.SendSuccess(c, updated)
}

// DeleteRule removes a rule and resolves its open alerts
func (h *Handlers) DeleteRule(c *gin.Context) {
	name := c.Param("name")
	if err := h.service.RemoveRule(name); err != nil {
		h.respondError(c, err, "delete rule")
		return
	}
	h.logger.WithField("rule", name).Info("Alert rule removed")
	utils.SendSuccess(c, gin.H{"name": name, "removed": true})
}

// EnableRule turns a rule on
func (h *Handlers) EnableRule(c *gin.Context) {
	h.setRuleEnabled(c, true)
}

// DisableRule turns a rule off
func (h *Handlers) DisableRule(c *gin.Context) {
	h.setRuleEnabled(c, false)
}

func (h *Handlers) setRuleEnabled(c *gin.Context, enabled bool) {
	name := c.Param("name")
	var err error
	if enabled {
		err = h.service.EnableRule(name)
	} else {
		err = h.service.DisableRule(name)
	}
	if err != nil {
		h.respondError(c, err, "change rule state")
		return
	}

	rule, err := h.service.GetRule(name)
	if err != nil {
		h.respondError(c, err, "change rule state")
		return
	}
	utils.SendSuccess(c, rule)
}
