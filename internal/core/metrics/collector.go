package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
)

// ErrCycleInProgress is returned when a collection cycle starts while the previous one is still running
var ErrCycleInProgress = errors.New("collection cycle already in progress")

// DefaultCollectorTimeout bounds a single collector call
const DefaultCollectorTimeout = 10 * time.Second

// CollectorFunc produces the current value of a metric: a number or a map of numbers
type CollectorFunc func(ctx context.Context) (interface{}, error)

// CycleResult summarizes one collection cycle
type CycleResult struct {
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Collected int               `json:"collected"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Registry holds named collectors and runs them into a Store
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]CollectorFunc
	store      *Store
	clock      clock.Clock
	logger     *logrus.Logger
	metrics    *EngineMetrics
	timeout    time.Duration

	running   atomic.Bool
	lastMu    sync.RWMutex
	lastCycle *CycleResult
	failures  atomic.Uint64
	skipped   atomic.Uint64
}

// NewRegistry creates a collector registry writing into store
func NewRegistry(store *Store, clk clock.Clock, logger *logrus.Logger, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultCollectorTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		collectors: make(map[string]CollectorFunc),
		store:      store,
		clock:      clk,
		logger:     logger,
		timeout:    timeout,
	}
}

// SetMetrics attaches the engine's Prometheus instruments
func (r *Registry) SetMetrics(m *EngineMetrics) {
	r.metrics = m
}

// Register adds or replaces a collector
func (r *Registry) Register(name string, fn CollectorFunc) error {
	if name == "" {
		return fmt.Errorf("collector name is required")
	}
	if fn == nil {
		return fmt.Errorf("collector %s has no function", name)
	}

	r.mu.Lock()
	_, replaced := r.collectors[name]
	r.collectors[name] = fn
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"collector": name,
		"replaced":  replaced,
	}).Debug("Registered metric collector")
	return nil
}

// Unregister removes a collector. It reports whether the collector existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collectors[name]; !ok {
		return false
	}
	delete(r.collectors, name)
	r.logger.WithField("collector", name).Debug("Unregistered metric collector")
	return true
}

// Names returns the registered collector names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunCycle invokes every collector concurrently and stores each successful result.
// A failing collector produces no sample and does not affect the others.
func (r *Registry) RunCycle(ctx context.Context) (CycleResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		if r.metrics != nil {
			r.metrics.CyclesSkipped.Inc()
		}
		r.logger.Warn("Skipping metric collection cycle, previous cycle still running")
		return CycleResult{}, ErrCycleInProgress
	}
	defer r.running.Store(false)

	r.mu.RLock()
	collectors := make(map[string]CollectorFunc, len(r.collectors))
	for name, fn := range r.collectors {
		collectors[name] = fn
	}
	r.mu.RUnlock()

	result := CycleResult{StartedAt: r.clock.Now()}
	start := time.Now()

	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for name, fn := range collectors {
		wg.Add(1)
		go func(name string, fn CollectorFunc) {
			defer wg.Done()
			err := r.collect(ctx, name, fn)

			rmu.Lock()
			defer rmu.Unlock()
			if err != nil {
				result.Failed++
				if result.Errors == nil {
					result.Errors = make(map[string]string)
				}
				result.Errors[name] = err.Error()
				return
			}
			result.Collected++
		}(name, fn)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	r.lastMu.Lock()
	r.lastCycle = &result
	r.lastMu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"collected":   result.Collected,
		"failed":      result.Failed,
		"duration_ms": result.Duration.Milliseconds(),
	}).Debug("Metric collection cycle completed")
	return result, nil
}

func (r *Registry) collect(ctx context.Context, name string, fn CollectorFunc) error {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		raw interface{}
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("collector panicked: %v", rec)}
			}
		}()
		raw, err := fn(cctx)
		done <- outcome{raw: raw, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-cctx.Done():
		out = outcome{err: fmt.Errorf("collector timed out: %w", cctx.Err())}
	}
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.CollectorDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}

	if out.err == nil {
		var value Value
		value, out.err = NewValue(out.raw)
		if out.err == nil {
			r.store.Store(Sample{
				Name:               name,
				Value:              value,
				Timestamp:          r.clock.Now(),
				CollectionDuration: elapsed,
			})
			return nil
		}
	}

	r.failures.Add(1)
	if r.metrics != nil {
		r.metrics.CollectorFailures.WithLabelValues(name).Inc()
	}
	r.logger.WithError(out.err).WithField("collector", name).Error("Metric collector failed")
	return out.err
}

// LastCycle returns the result of the most recent completed cycle
func (r *Registry) LastCycle() (CycleResult, bool) {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	if r.lastCycle == nil {
		return CycleResult{}, false
	}
	return *r.lastCycle, true
}

// Failures returns the number of failed collector calls since start
func (r *Registry) Failures() uint64 {
	return r.failures.Load()
}

// SkippedCycles returns how many cycles were skipped because of overlap
func (r *Registry) SkippedCycles() uint64 {
	return r.skipped.Load()
}
