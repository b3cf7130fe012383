package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
)

// Defaults for the aggregator
const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultPruneInterval = time.Hour
	DefaultBufferSize    = 64
)

// SeriesSource supplies a read-only copy of every raw series
type SeriesSource interface {
	Snapshot() map[string][]metrics.Sample
}

// Config configures an Aggregator
type Config struct {
	Windows       []Window
	Retention     time.Duration
	PruneInterval time.Duration
	BufferSize    int
}

type writeJob struct {
	records []Record
	cutoff  time.Time
}

// Aggregator rolls raw series up into windowed statistics and persists them asynchronously
type Aggregator struct {
	mu        sync.Mutex
	windows   []Window
	lastRun   map[string]time.Time
	lastPrune time.Time
	lastTick  time.Time

	source        SeriesSource
	rollups       RollupStore
	retention     time.Duration
	pruneInterval time.Duration
	clock         clock.Clock
	logger        *logrus.Logger
	metrics       *metrics.EngineMetrics

	queue    chan writeJob
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	stopOnce sync.Once

	written int64
	failed  int64
	dropped int64
}

// NewAggregator creates an aggregator reading from source and writing to rollups
func NewAggregator(cfg Config, source SeriesSource, rollups RollupStore, clk clock.Clock, logger *logrus.Logger) (*Aggregator, error) {
	if len(cfg.Windows) == 0 {
		cfg.Windows = DefaultWindows()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if clk == nil {
		clk = clock.Real()
	}

	seen := make(map[string]bool, len(cfg.Windows))
	for _, w := range cfg.Windows {
		if w.Name == "" || w.Interval <= 0 {
			return nil, fmt.Errorf("aggregation window %q needs a name and a positive interval", w.Name)
		}
		if seen[w.Name] {
			return nil, fmt.Errorf("duplicate aggregation window %q", w.Name)
		}
		seen[w.Name] = true
		if err := ValidateStats(w.Stats); err != nil {
			return nil, fmt.Errorf("invalid window %s: %w", w.Name, err)
		}
	}

	return &Aggregator{
		windows:       cfg.Windows,
		lastRun:       make(map[string]time.Time),
		source:        source,
		rollups:       rollups,
		retention:     cfg.Retention,
		pruneInterval: cfg.PruneInterval,
		clock:         clk,
		logger:        logger,
		queue:         make(chan writeJob, cfg.BufferSize),
	}, nil
}

// SetMetrics attaches the engine's Prometheus instruments
func (a *Aggregator) SetMetrics(m *metrics.EngineMetrics) {
	a.metrics = m
}

// Start launches the background writer
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.writer(ctx)
}

// Stop drains pending writes and stops the writer
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		close(a.queue)
		a.mu.Unlock()
	})
	a.wg.Wait()
}

// Tick runs every window whose interval has elapsed since its last run and queues the
// resulting records for persistence. It never blocks on storage.
func (a *Aggregator) Tick() []Record {
	now := a.clock.Now()

	a.mu.Lock()
	var due []Window
	for _, w := range a.windows {
		last, ok := a.lastRun[w.Name]
		if !ok || now.Sub(last) >= w.Interval {
			due = append(due, w)
			a.lastRun[w.Name] = now
		}
	}
	a.lastTick = now
	prune := now.Sub(a.lastPrune) >= a.pruneInterval
	if prune {
		a.lastPrune = now
	}
	a.mu.Unlock()

	var records []Record
	if len(due) > 0 {
		snapshot := a.source.Snapshot()
		for _, w := range due {
			records = append(records, Aggregate(snapshot, w, now)...)
		}
	}

	job := writeJob{records: records}
	if prune {
		job.cutoff = now.Add(-a.retention)
	}
	if len(job.records) > 0 || !job.cutoff.IsZero() {
		a.enqueue(job)
	}

	if len(records) > 0 {
		a.logger.WithFields(logrus.Fields{
			"windows": len(due),
			"records": len(records),
		}).Debug("Aggregated metric windows")
	}
	return records
}

// Aggregate computes one record per series for a window ending at now.
// Series without samples inside the window produce no record.
func Aggregate(snapshot map[string][]metrics.Sample, w Window, now time.Time) []Record {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	start := now.Add(-w.Interval)
	records := make([]Record, 0, len(names))
	for _, name := range names {
		var values []float64
		for _, s := range snapshot[name] {
			if s.Timestamp.Before(start) || s.Timestamp.After(now) {
				continue
			}
			values = append(values, s.Value.Float())
		}
		if len(values) == 0 {
			continue
		}
		records = append(records, Record{
			Metric:    name,
			Window:    w.Name,
			Timestamp: now,
			PeriodMs:  w.Interval.Milliseconds(),
			Count:     len(values),
			Stats:     Compute(values, w.Stats),
		})
	}
	return records
}

// Query returns persisted rollups of a metric for a configured window
func (a *Aggregator) Query(ctx context.Context, metric, window string, since time.Time) ([]Record, error) {
	if !a.HasWindow(window) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWindow, window)
	}
	return a.rollups.Query(ctx, metric, window, since)
}

// HasWindow reports whether a window name is configured
func (a *Aggregator) HasWindow(name string) bool {
	for _, w := range a.windows {
		if w.Name == name {
			return true
		}
	}
	return false
}

// Windows returns the configured windows
func (a *Aggregator) Windows() []Window {
	out := make([]Window, len(a.windows))
	copy(out, a.windows)
	return out
}

// GetStatus returns aggregator state for status reporting
func (a *Aggregator) GetStatus() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	lastRun := make(map[string]time.Time, len(a.lastRun))
	for k, v := range a.lastRun {
		lastRun[k] = v
	}
	return map[string]interface{}{
		"last_tick":       a.lastTick,
		"last_run":        lastRun,
		"pending_writes":  len(a.queue),
		"records_written": a.written,
		"write_failures":  a.failed,
		"dropped_writes":  a.dropped,
	}
}

// WriteFailures returns how many rollup records failed to persist or were dropped
func (a *Aggregator) WriteFailures() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed + a.dropped
}

// LastTick returns when the aggregator last ran
func (a *Aggregator) LastTick() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastTick
}

func (a *Aggregator) enqueue(job writeJob) {
	a.mu.Lock()
	if !a.stopped {
		select {
		case a.queue <- job:
			a.mu.Unlock()
			return
		default:
		}
	}
	stopped := a.stopped
	a.dropped += int64(len(job.records))
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RollupFailures.Add(float64(len(job.records)))
	}
	if stopped {
		a.logger.WithField("records", len(job.records)).Warn("Aggregator stopped, discarding rollup write")
		return
	}
	a.logger.WithField("records", len(job.records)).Warn("Rollup write buffer full, dropping records")
}

func (a *Aggregator) writer(ctx context.Context) {
	defer a.wg.Done()
	for job := range a.queue {
		a.persist(ctx, job)
	}
}

func (a *Aggregator) persist(ctx context.Context, job writeJob) {
	if len(job.records) > 0 {
		if err := a.rollups.Append(ctx, job.records); err != nil {
			a.mu.Lock()
			a.failed += int64(len(job.records))
			a.mu.Unlock()
			if a.metrics != nil {
				a.metrics.RollupFailures.Add(float64(len(job.records)))
			}
			a.logger.WithError(err).WithField("records", len(job.records)).Error("Failed to persist rollups")
		} else {
			a.mu.Lock()
			a.written += int64(len(job.records))
			a.mu.Unlock()
			if a.metrics != nil {
				for _, r := range job.records {
					a.metrics.RollupWrites.WithLabelValues(r.Window).Inc()
				}
			}
		}
	}

	if !job.cutoff.IsZero() {
		removed, err := a.rollups.Prune(ctx, job.cutoff)
		if err != nil {
			a.logger.WithError(err).Error("Failed to prune rollups")
			return
		}
		if removed > 0 {
			a.logger.WithField("removed", removed).Info("Pruned expired rollups")
		}
	}
}
