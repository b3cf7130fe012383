package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
)

// Resource usage limits for the system health check
const (
	resourceDegradedPercent  = 90.0
	resourceUnhealthyPercent = 98.0
)

func (s *MonitoringService) setupHealthChecks() {
	s.health.RegisterCheck("collection", s.collectionHealth)
	s.health.RegisterCheck("alerting", s.alertingHealth)
	s.health.RegisterCheck("rollups", s.rollupHealth())
	if s.config.SystemCollectors {
		s.health.RegisterCheck("system_resources", s.systemResourceHealth)
	}
}

func (s *MonitoringService) collectionHealth(ctx context.Context) metrics.HealthStatus {
	cycle, ok := s.registry.LastCycle()
	if !ok {
		if !s.IsRunning() {
			return metrics.HealthStatus{Status: metrics.HealthHealthy, Message: "Collection not started"}
		}
		return metrics.HealthStatus{Status: metrics.HealthUnknown, Message: "No collection cycle completed yet"}
	}

	details := map[string]interface{}{
		"last_cycle": cycle.StartedAt,
		"collected":  cycle.Collected,
		"failed":     cycle.Failed,
	}
	if s.IsRunning() && s.clock.Now().Sub(cycle.StartedAt) > 3*s.collectionInterval {
		return metrics.HealthStatus{Status: metrics.HealthUnhealthy, Message: "Collection cycles are not running", Details: details}
	}
	if cycle.Failed > 0 {
		details["errors"] = cycle.Errors
		return metrics.HealthStatus{
			Status:  metrics.HealthDegraded,
			Message: fmt.Sprintf("%d collectors failed in the last cycle", cycle.Failed),
			Details: details,
		}
	}
	return metrics.HealthStatus{Status: metrics.HealthHealthy, Message: "Collectors reporting", Details: details}
}

func (s *MonitoringService) alertingHealth(ctx context.Context) metrics.HealthStatus {
	critical := 0
	for _, alert := range s.engine.Lifecycle().Active() {
		if alert.Severity == monitoring.SeverityCritical {
			critical++
		}
	}
	details := map[string]interface{}{"critical_alerts": critical}
	if critical > 0 {
		return metrics.HealthStatus{
			Status:  metrics.HealthDegraded,
			Message: fmt.Sprintf("%d critical alerts active", critical),
			Details: details,
		}
	}
	return metrics.HealthStatus{Status: metrics.HealthHealthy, Message: "No critical alerts", Details: details}
}

// rollupHealth degrades when rollup writes failed since the previous check
func (s *MonitoringService) rollupHealth() metrics.HealthCheck {
	var (
		mu   sync.Mutex
		seen int64
	)
	return func(ctx context.Context) metrics.HealthStatus {
		failures := s.aggregator.WriteFailures()
		mu.Lock()
		fresh := failures - seen
		seen = failures
		mu.Unlock()

		details := map[string]interface{}{
			"write_failures": failures,
			"last_tick":      s.aggregator.LastTick(),
		}
		if fresh > 0 {
			return metrics.HealthStatus{
				Status:  metrics.HealthDegraded,
				Message: fmt.Sprintf("%d rollup records failed to persist", fresh),
				Details: details,
			}
		}
		return metrics.HealthStatus{Status: metrics.HealthHealthy, Message: "Rollups persisting", Details: details}
	}
}

func (s *MonitoringService) systemResourceHealth(ctx context.Context) metrics.HealthStatus {
	details := make(map[string]interface{})
	worst := 0.0
	for _, name := range []string{metrics.SystemMemory, metrics.SystemDisk} {
		sample, ok := s.store.Latest(name)
		if !ok {
			continue
		}
		used, ok := sample.Value.Field("used_percent")
		if !ok {
			continue
		}
		details[name] = used
		if used > worst {
			worst = used
		}
	}
	if cpu, ok := s.store.Latest(metrics.SystemCPU); ok {
		details[metrics.SystemCPU] = cpu.Value.Float()
	}

	if len(details) == 0 {
		return metrics.HealthStatus{Status: metrics.HealthUnknown, Message: "No system samples collected yet"}
	}
	switch {
	case worst > resourceUnhealthyPercent:
		return metrics.HealthStatus{Status: metrics.HealthUnhealthy, Message: "System resources are critically low", Details: details}
	case worst > resourceDegradedPercent:
		return metrics.HealthStatus{Status: metrics.HealthDegraded, Message: "System resources are under pressure", Details: details}
	}
	return metrics.HealthStatus{Status: metrics.HealthHealthy, Message: "System resources are within normal limits", Details: details}
}
