package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/api/handlers"
	"github.com/frostdev-ops/botpanel-monitor/internal/api/middleware"
	"github.com/frostdev-ops/botpanel-monitor/internal/config"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/internal/websocket"
	"github.com/frostdev-ops/botpanel-monitor/pkg/logger"
	"github.com/frostdev-ops/botpanel-monitor/pkg/utils"
)

// Dependencies are the components the router wires into routes. Hub and
// RateLimiter may be nil.
type Dependencies struct {
	Handlers    *handlers.Handlers
	Hub         *websocket.Hub
	Metrics     *metrics.EngineMetrics
	Requests    *logger.BatchLogger
	RateLimiter *middleware.RateLimiter
	Logger      *logrus.Logger
}

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	switch cfg.Server.Mode {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true

	// Global middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.LoggingMiddleware(deps.Requests))
	router.Use(middleware.MetricsMiddleware(deps.Metrics))
	router.Use(middleware.ErrorResponseMiddleware(deps.Logger))
	if cfg.Security.EnableCORS {
		router.Use(middleware.CORSMiddleware(cfg.Security))
	}

	router.NoRoute(func(c *gin.Context) {
		utils.SendError(c, http.StatusNotFound, "Endpoint not found")
	})
	router.NoMethod(func(c *gin.Context) {
		utils.SendError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	h := deps.Handlers
	auth := middleware.AuthMiddleware(cfg.Auth, deps.Logger)

	// Public routes
	router.GET("/health", h.GetHealth)
	router.GET("/health/live", h.GetLiveness)

	if cfg.Monitoring.Prometheus.Enabled {
		path := cfg.Monitoring.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(deps.Metrics.Handler()))
	}

	if cfg.WebSocket.Enabled && deps.Hub != nil {
		router.GET("/ws", auth, websocket.HandleWebSocketGin(deps.Hub))
	}

	api := router.Group("/api/v1")
	api.Use(auth)
	{
		metricRoutes := api.Group("/metrics")
		{
			metricRoutes.GET("", h.GetMetricNames)
			metricRoutes.GET("/:name", h.GetMetrics)
			metricRoutes.GET("/:name/aggregated", h.GetAggregatedMetrics)

			ingest := []gin.HandlerFunc{}
			if cfg.Security.RateLimit.Enabled && deps.RateLimiter != nil {
				ingest = append(ingest, deps.RateLimiter.RateLimitMiddleware())
			}
			ingest = append(ingest, h.RecordSample)
			metricRoutes.POST("/:name/samples", ingest...)
		}
		api.POST("/collect", h.CollectNow)

		alerts := api.Group("/alerts")
		{
			alerts.GET("", h.GetAlerts)
			alerts.GET("/active", h.GetActiveAlerts)
			alerts.GET("/pending", h.GetPendingAlerts)
			alerts.GET("/history", h.GetAlertHistory)
			alerts.GET("/:id", h.GetAlert)
			alerts.POST("/:id/resolve", h.ResolveAlert)
		}

		rules := api.Group("/rules")
		{
			rules.GET("", h.GetRules)
			rules.POST("", h.CreateRule)
			rules.GET("/:name", h.GetRule)
			rules.PUT("/:name", h.UpdateRule)
			rules.DELETE("/:name", h.DeleteRule)
			rules.POST("/:name/enable", h.EnableRule)
			rules.POST("/:name/disable", h.DisableRule)
		}

		suppressions := api.Group("/suppressions")
		{
			suppressions.GET("", h.ListSuppressions)
			suppressions.POST("", h.SuppressAlert)
			suppressions.GET("/:rule", h.GetSuppression)
			suppressions.DELETE("/:rule", h.UnsuppressAlert)
		}

		api.GET("/statistics", h.GetStatistics)
		api.GET("/status", h.GetStatus)
		api.GET("/audit", h.GetAuditLog)
	}

	return router
}
