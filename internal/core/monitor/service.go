package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/config"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/notify"
)

// Default driver intervals
const (
	DefaultCollectionInterval  = 5 * time.Second
	DefaultAggregationInterval = 60 * time.Second
	DefaultCleanupSchedule     = "@hourly"
)

// Options carries the collaborators of a MonitoringService. Nil members get defaults:
// an in-memory rollup store, a logging audit sink, fresh Prometheus instruments and
// the real clock.
type Options struct {
	Config  *config.MonitoringConfig
	Rollups analytics.RollupStore
	Audit   notify.AuditSink
	Metrics *metrics.EngineMetrics
	Clock   clock.Clock
}

// MonitoringService coordinates collection, aggregation and alerting
type MonitoringService struct {
	config *config.MonitoringConfig
	logger *logrus.Logger
	clock  clock.Clock

	// Core components
	store      *metrics.Store
	registry   *metrics.Registry
	aggregator *analytics.Aggregator
	engine     *monitoring.AlertingEngine
	dispatcher *notify.Dispatcher
	health     *metrics.HealthChecker
	metrics    *metrics.EngineMetrics

	collectionInterval  time.Duration
	aggregationInterval time.Duration
	cleanupSchedule     string

	// Background workers
	cron      *cron.Cron
	cancel    context.CancelFunc
	running   bool
	stopped   bool
	startedAt time.Time
	mu        sync.RWMutex

	audit          notify.AuditSink
	auditRetention time.Duration

	lastCleanup time.Time
	lastMu      sync.RWMutex
}

// auditPruner is implemented by audit sinks that retain entries
type auditPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewMonitoringService creates the monitoring service and loads the alert rules file
func NewMonitoringService(opts Options, logger *logrus.Logger) (*MonitoringService, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.MonitoringConfig{
			Enabled:          true,
			SystemCollectors: false,
			Alerts:           config.MonitoringAlertsConfig{Enabled: true},
		}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	em := opts.Metrics
	if em == nil {
		em = metrics.NewEngineMetrics(&metrics.MetricsConfig{
			Enabled: cfg.Prometheus.Enabled,
			Prefix:  cfg.Prometheus.Prefix,
		})
	}

	rollups := opts.Rollups
	if rollups == nil {
		rollups = analytics.NewMemoryRollupStore()
	}

	store := metrics.NewStore(config.ParseDuration(cfg.MetricsRetention, metrics.DefaultRetention), clk, logger)
	store.SetMetrics(em)

	registry := metrics.NewRegistry(store, clk, logger, config.ParseDuration(cfg.CollectorTimeout, metrics.DefaultCollectorTimeout))
	registry.SetMetrics(em)
	if cfg.SystemCollectors {
		if err := metrics.RegisterSystemCollectors(registry, cfg.DiskPath); err != nil {
			return nil, fmt.Errorf("failed to register system collectors: %w", err)
		}
	}

	aggregator, err := analytics.NewAggregator(analytics.Config{
		Retention:  config.ParseDuration(cfg.Aggregation.Retention, analytics.DefaultRetention),
		BufferSize: cfg.Aggregation.BufferSize,
	}, store, rollups, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}
	aggregator.SetMetrics(em)

	dispatcher := notify.NewDispatcher(cfg.Notifications.BufferSize, config.ParseDuration(cfg.Notifications.SendTimeout, notify.DefaultSendTimeout), logger)
	dispatcher.AddSink("log", notify.NewLogSink(logger))
	if opts.Audit != nil {
		dispatcher.SetAuditSink(opts.Audit)
	} else {
		dispatcher.SetAuditSink(notify.NewLogSink(logger))
	}

	ruleSet, err := loadRules(cfg.Alerts, logger)
	if err != nil {
		return nil, err
	}

	engine, err := monitoring.NewAlertingEngine(monitoring.AlertingConfig{
		AlertRetention:     config.ParseDuration(cfg.Alerts.Retention, monitoring.DefaultAlertRetention),
		EscalationPolicies: ruleSet.Policies,
	}, store, dispatcher, dispatcher, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create alerting engine: %w", err)
	}
	engine.SetMetrics(em)
	for _, rule := range ruleSet.Rules {
		if err := engine.AddRule(rule); err != nil {
			return nil, fmt.Errorf("failed to add rule %s: %w", rule.Name, err)
		}
	}
	if cfg.Alerts.Enabled {
		store.OnSample(engine.OnSample)
	}

	s := &MonitoringService{
		config:              cfg,
		logger:              logger,
		clock:               clk,
		store:               store,
		registry:            registry,
		aggregator:          aggregator,
		engine:              engine,
		dispatcher:          dispatcher,
		health:              metrics.NewHealthChecker(),
		metrics:             em,
		collectionInterval:  config.ParseDuration(cfg.CollectionInterval, DefaultCollectionInterval),
		aggregationInterval: config.ParseDuration(cfg.Aggregation.Interval, DefaultAggregationInterval),
		cleanupSchedule:     cfg.CleanupSchedule,
		cron:                newCron(logger),
		audit:               opts.Audit,
		auditRetention:      config.ParseDuration(cfg.Alerts.Retention, monitoring.DefaultAlertRetention),
	}
	if s.cleanupSchedule == "" {
		s.cleanupSchedule = DefaultCleanupSchedule
	}

	s.setupHealthChecks()
	return s, nil
}

// loadRules reads the rules file. A missing file leaves the engine with no rules and
// the built-in escalation policies.
func loadRules(cfg config.MonitoringAlertsConfig, logger *logrus.Logger) (*monitoring.RuleSet, error) {
	empty := &monitoring.RuleSet{}
	if cfg.RulesFile == "" {
		return empty, nil
	}
	if _, err := os.Stat(cfg.RulesFile); errors.Is(err, os.ErrNotExist) {
		logger.WithField("path", cfg.RulesFile).Warn("Alert rules file not found, starting without rules")
		return empty, nil
	}

	set, err := monitoring.LoadRuleFile(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"path":     cfg.RulesFile,
		"rules":    len(set.Rules),
		"policies": len(set.Policies),
	}).Info("Loaded alert rules")
	if len(set.Policies) == 0 {
		set.Policies = nil
	}
	return set, nil
}

// Start starts the monitoring service
func (s *MonitoringService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("monitoring service is already running")
	}
	if s.stopped {
		return fmt.Errorf("monitoring service cannot be restarted")
	}

	if !s.config.Enabled {
		s.logger.Info("Monitoring service is disabled")
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"collection_interval":  s.collectionInterval.String(),
		"aggregation_interval": s.aggregationInterval.String(),
		"cleanup_schedule":     s.cleanupSchedule,
		"collectors":           len(s.registry.Names()),
	}).Info("Starting monitoring service")

	runCtx, cancel := context.WithCancel(ctx)

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"collection", every(s.collectionInterval), func() { s.collect(runCtx) }},
		{"aggregation", every(s.aggregationInterval), func() { s.AggregateNow() }},
		{"cleanup", s.cleanupSchedule, func() { s.Cleanup() }},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}
	}

	s.dispatcher.Start(runCtx)
	s.aggregator.Start(runCtx)
	s.engine.Start(runCtx)
	s.cron.Start()

	s.cancel = cancel
	s.running = true
	s.startedAt = s.clock.Now()
	s.logger.Info("Monitoring service started successfully")

	return nil
}

// Stop stops the scheduled jobs, drains pending rollup writes and notifications
func (s *MonitoringService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("Stopping monitoring service")

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("Timeout waiting for scheduled jobs to complete")
	}

	s.engine.Stop()
	s.aggregator.Stop()
	s.dispatcher.Stop()
	s.cancel()

	s.running = false
	s.stopped = true
	s.logger.Info("Monitoring service stopped")

	return nil
}

// IsRunning reports whether the scheduled jobs are active
func (s *MonitoringService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *MonitoringService) collect(ctx context.Context) {
	if _, err := s.registry.RunCycle(ctx); err != nil && !errors.Is(err, metrics.ErrCycleInProgress) {
		s.logger.WithError(err).Warn("Metric collection cycle failed")
	}
}

// CollectNow runs one collection cycle immediately
func (s *MonitoringService) CollectNow(ctx context.Context) (metrics.CycleResult, error) {
	return s.registry.RunCycle(ctx)
}

// AggregateNow runs every due aggregation window immediately
func (s *MonitoringService) AggregateNow() []analytics.Record {
	return s.aggregator.Tick()
}

// Cleanup purges expired alerts, metric samples and audit entries
func (s *MonitoringService) Cleanup() {
	purged := s.engine.Lifecycle().Purge()
	pruned := s.store.Prune()

	var audited int64
	if pruner, ok := s.audit.(auditPruner); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := pruner.Prune(ctx, s.clock.Now().Add(-s.auditRetention))
		cancel()
		if err != nil {
			s.logger.WithError(err).Warn("Failed to prune audit log")
		}
		audited = n
	}

	s.lastMu.Lock()
	s.lastCleanup = s.clock.Now()
	s.lastMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"alerts_purged":  purged,
		"samples_pruned": pruned,
		"audit_pruned":   audited,
	}).Debug("Monitoring cleanup completed")
}

// Store returns the raw sample store
func (s *MonitoringService) Store() *metrics.Store { return s.store }

// Registry returns the collector registry
func (s *MonitoringService) Registry() *metrics.Registry { return s.registry }

// Aggregator returns the rollup aggregator
func (s *MonitoringService) Aggregator() *analytics.Aggregator { return s.aggregator }

// Engine returns the alerting engine
func (s *MonitoringService) Engine() *monitoring.AlertingEngine { return s.engine }

// Dispatcher returns the notification dispatcher
func (s *MonitoringService) Dispatcher() *notify.Dispatcher { return s.dispatcher }

// Metrics returns the Prometheus instruments
func (s *MonitoringService) Metrics() *metrics.EngineMetrics { return s.metrics }

// HealthChecker returns the component health checker
func (s *MonitoringService) HealthChecker() *metrics.HealthChecker { return s.health }

// AddNotificationSink registers a delivery target for alert notifications
func (s *MonitoringService) AddNotificationSink(name string, sink notify.Sink) {
	s.dispatcher.AddSink(name, sink)
}

// OnAlertEvent registers a listener for alert lifecycle events
func (s *MonitoringService) OnAlertEvent(listener monitoring.AlertListener) {
	s.engine.Lifecycle().AddListener(listener)
}

// RegisterCollector adds or replaces a metric collector
func (s *MonitoringService) RegisterCollector(name string, fn metrics.CollectorFunc) error {
	return s.registry.Register(name, fn)
}

// UnregisterCollector removes a metric collector
func (s *MonitoringService) UnregisterCollector(name string) bool {
	return s.registry.Unregister(name)
}
