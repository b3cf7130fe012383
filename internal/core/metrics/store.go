package metrics

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
)

// DefaultRetention is how long raw samples are kept in memory
const DefaultRetention = time.Hour

// ErrSampleExpired is returned for samples stamped before the retention window
var ErrSampleExpired = errors.New("sample is older than the retention window")

// Store holds one bounded, time-ordered series per metric name
type Store struct {
	mu        sync.RWMutex
	series    map[string][]Sample
	retention time.Duration
	clock     clock.Clock
	logger    *logrus.Logger
	metrics   *EngineMetrics

	seq       atomic.Uint64
	total     atomic.Uint64
	listeners []SampleListener
	lmu       sync.RWMutex
}

// NewStore creates a sample store. A zero retention selects DefaultRetention.
func NewStore(retention time.Duration, clk clock.Clock, logger *logrus.Logger) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		series:    make(map[string][]Sample),
		retention: retention,
		clock:     clk,
		logger:    logger,
	}
}

// SetMetrics attaches the engine's Prometheus instruments
func (s *Store) SetMetrics(m *EngineMetrics) {
	s.metrics = m
}

// OnSample registers a listener invoked after every successful store
func (s *Store) OnSample(listener SampleListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Store appends a sample to its series, evicts entries older than the retention window
// and then hands the stored sample to every listener on the caller's goroutine.
// Samples stamped before the window are dropped without reaching listeners.
func (s *Store) Store(sample Sample) Sample {
	now := s.clock.Now()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	if s.expired(sample.Timestamp, now) {
		s.logger.WithFields(logrus.Fields{
			"metric":    sample.Name,
			"timestamp": sample.Timestamp,
		}).Debug("Dropping sample older than retention window")
		return sample
	}
	sample.Seq = s.seq.Add(1)

	s.mu.Lock()
	series := s.series[sample.Name]
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(sample.Timestamp)
	})
	series = append(series, Sample{})
	copy(series[idx+1:], series[idx:])
	series[idx] = sample
	s.series[sample.Name] = evictBefore(series, now.Add(-s.retention))
	s.mu.Unlock()

	s.total.Add(1)
	if s.metrics != nil {
		s.metrics.SamplesStored.WithLabelValues(sample.Name).Inc()
	}

	s.lmu.RLock()
	listeners := s.listeners
	s.lmu.RUnlock()
	for _, listener := range listeners {
		listener(sample)
	}
	return sample
}

// Expired reports whether a sample stamped at ts would fall outside the retention window
func (s *Store) Expired(ts time.Time) bool {
	return !ts.IsZero() && s.expired(ts, s.clock.Now())
}

func (s *Store) expired(ts, now time.Time) bool {
	return ts.Before(now.Add(-s.retention))
}

// Query returns the samples of a metric with a timestamp at or after since, oldest first
func (s *Store) Query(name string, since time.Time) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[name]
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(since)
	})
	out := make([]Sample, len(series)-idx)
	copy(out, series[idx:])
	return out
}

// Recent returns the samples of a metric inside the last d
func (s *Store) Recent(name string, d time.Duration) []Sample {
	return s.Query(name, s.clock.Now().Add(-d))
}

// Latest returns the newest sample of a metric
func (s *Store) Latest(name string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.series[name]
	if len(series) == 0 {
		return Sample{}, false
	}
	return series[len(series)-1], true
}

// Names returns every metric name with at least one retained sample, sorted
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for name, series := range s.series {
		if len(series) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot copies every series
func (s *Store) Snapshot() map[string][]Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Sample, len(s.series))
	for name, series := range s.series {
		cp := make([]Sample, len(series))
		copy(cp, series)
		out[name] = cp
	}
	return out
}

// Prune evicts expired samples from every series, including series that stopped receiving writes
func (s *Store) Prune() int {
	cutoff := s.clock.Now().Add(-s.retention)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, series := range s.series {
		kept := evictBefore(series, cutoff)
		removed += len(series) - len(kept)
		if len(kept) == 0 {
			delete(s.series, name)
			continue
		}
		s.series[name] = kept
	}

	if removed > 0 && s.logger != nil {
		s.logger.WithField("removed", removed).Debug("Pruned expired metric samples")
	}
	return removed
}

// Counts returns the number of series, retained samples and samples stored since start
func (s *Store) Counts() (series, retained int, stored uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, samples := range s.series {
		if len(samples) > 0 {
			series++
		}
		retained += len(samples)
	}
	return series, retained, s.total.Load()
}

// Retention returns the raw sample retention window
func (s *Store) Retention() time.Duration {
	return s.retention
}

func evictBefore(series []Sample, cutoff time.Time) []Sample {
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(cutoff)
	})
	if idx == 0 {
		return series
	}
	kept := make([]Sample, len(series)-idx)
	copy(kept, series[idx:])
	return kept
}
