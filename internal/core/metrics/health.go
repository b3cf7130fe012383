package metrics

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Health states
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     string                  `json:"status"`
	Message    string                  `json:"message"`
	Timestamp  time.Time               `json:"timestamp"`
	Duration   time.Duration           `json:"duration"`
	Components map[string]HealthStatus `json:"components"`
	SystemInfo map[string]interface{}  `json:"system_info"`
}

// HealthCheck checks a single component
type HealthCheck func(ctx context.Context) HealthStatus

// HealthChecker runs named component checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthChecker creates an empty health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]HealthCheck),
	}
}

// RegisterCheck adds or replaces a component check
func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check and folds the results into one report.
// Any unhealthy component makes the report unhealthy; any degraded one degrades it.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	start := time.Now()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()
	sort.Strings(names)

	report := HealthReport{
		Status:     HealthHealthy,
		Message:    "All components healthy",
		Timestamp:  start,
		Components: make(map[string]HealthStatus, len(names)),
		SystemInfo: map[string]interface{}{
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
			"num_cpu":    runtime.NumCPU(),
		},
	}

	for _, name := range names {
		checkStart := time.Now()
		status := checks[name](ctx)
		status.Duration = time.Since(checkStart)
		if status.Timestamp.IsZero() {
			status.Timestamp = checkStart
		}
		report.Components[name] = status

		switch status.Status {
		case HealthUnhealthy:
			report.Status = HealthUnhealthy
			report.Message = "One or more components unhealthy"
		case HealthDegraded, HealthUnknown:
			if report.Status == HealthHealthy {
				report.Status = HealthDegraded
				report.Message = "One or more components degraded"
			}
		}
	}

	report.Duration = time.Since(start)
	return report
}
