package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/api"
	"github.com/frostdev-ops/botpanel-monitor/internal/api/handlers"
	"github.com/frostdev-ops/botpanel-monitor/internal/api/middleware"
	"github.com/frostdev-ops/botpanel-monitor/internal/config"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitor"
	"github.com/frostdev-ops/botpanel-monitor/internal/database"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/archive"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/sqlite"
	"github.com/frostdev-ops/botpanel-monitor/internal/websocket"
	"github.com/frostdev-ops/botpanel-monitor/pkg/logger"
	"github.com/frostdev-ops/botpanel-monitor/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	requests, err := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := requests.Logger
	log.WithField("build", version.GetBuildInfo().String()).Info("Starting bot panel monitor")

	// Initialize database
	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	if cfg.Database.Migration.Enabled && cfg.Database.Migration.AutoMigrate {
		if err := database.Migrate(db.DB); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}
	}

	var archiver sqlite.Archiver
	if cfg.Database.Archive.Enabled {
		rollupArchiver, err := archive.NewRollupArchiver(cfg.Database.Archive.Path, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize rollup archive")
		}
		archiver = rollupArchiver
	}

	clk := clock.Real()
	repos := database.NewRepositories(db, archiver, clk, log)

	em := metrics.NewEngineMetrics(&metrics.MetricsConfig{
		Enabled: cfg.Monitoring.Prometheus.Enabled,
		Prefix:  cfg.Monitoring.Prometheus.Prefix,
	})

	service, err := monitor.NewMonitoringService(monitor.Options{
		Config:  &cfg.Monitoring,
		Rollups: repos.Rollups,
		Audit:   repos.Audit,
		Metrics: em,
		Clock:   clk,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create monitoring service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create WebSocket hub
	var wsHub *websocket.Hub
	if cfg.WebSocket.Enabled {
		wsHub = websocket.NewHub(websocket.ClientConfig{
			PingInterval:   time.Duration(cfg.WebSocket.PingInterval) * time.Second,
			PongTimeout:    time.Duration(cfg.WebSocket.PongTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.WebSocket.WriteTimeout) * time.Second,
			AllowedOrigins: cfg.Security.AllowedOrigins,
		}, log)
		go wsHub.Run(ctx)

		service.AddNotificationSink("dashboard", websocket.NewNotificationSink(wsHub))
		service.OnAlertEvent(websocket.AlertForwarder(wsHub))
	}

	if err := service.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start monitoring service")
	}

	rateLimiter := middleware.NewRateLimiter(cfg.Security.RateLimit.RequestsPerSecond, cfg.Security.RateLimit.Burst)
	go rateLimiter.Run(ctx)

	router := api.NewRouter(cfg, api.Dependencies{
		Handlers:    handlers.NewHandlers(service, repos.Audit, wsHub, log),
		Hub:         wsHub,
		Metrics:     em,
		Requests:    requests,
		RateLimiter: rateLimiter,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	if err := service.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop monitoring service gracefully")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	cancel()
	requests.FlushPending()
	log.Info("Server exited")
}
