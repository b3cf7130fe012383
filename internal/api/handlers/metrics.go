package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/pkg/utils"
)

// GetMetricNames lists metrics with retained samples
func (h *Handlers) GetMetricNames(c *gin.Context) {
	names := h.service.GetMetricNames()
	utils.SendSuccessWithMeta(c, names, gin.H{"count": len(names)})
}

// GetMetrics returns raw samples of a metric
func (h *Handlers) GetMetrics(c *gin.Context) {
	name := c.Param("name")
	timeRange, err := parseRange(c.Query("range"))
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	samples := h.service.GetMetrics(name, timeRange)
	utils.SendSuccessWithMeta(c, samples, gin.H{
		"metric": name,
		"count":  len(samples),
		"range":  timeRange.String(),
	})
}

// GetAggregatedMetrics returns rollups of a metric for one window
func (h *Handlers) GetAggregatedMetrics(c *gin.Context) {
	name := c.Param("name")
	window := c.DefaultQuery("window", analytics.DefaultWindows()[0].Name)
	timeRange, err := parseRange(c.Query("range"))
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	records, err := h.service.GetAggregatedMetrics(ctx, name, window, timeRange)
	if err != nil {
		h.respondError(c, err, "retrieve aggregated metrics")
		return
	}

	utils.SendSuccessWithMeta(c, records, gin.H{
		"metric": name,
		"window": window,
		"count":  len(records),
	})
}

type sampleRequest struct {
	Value     interface{} `json:"value"`
	Timestamp *time.Time  `json:"timestamp"`
}

// RecordSample ingests a sample pushed by a bot or external collector
func (h *Handlers) RecordSample(c *gin.Context) {
	var request sampleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if request.Value == nil {
		badRequest(c, "value is required")
		return
	}

	var ts time.Time
	if request.Timestamp != nil {
		ts = *request.Timestamp
	}

	sample, err := h.service.RecordSample(c.Param("name"), request.Value, ts)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	utils.SendCreated(c, sample)
}

// CollectNow runs one collection cycle immediately
func (h *Handlers) CollectNow(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	result, err := h.service.CollectNow(ctx)
	if err != nil {
		h.respondError(c, err, "run collection cycle")
		return
	}
	utils.SendSuccess(c, result)
}
