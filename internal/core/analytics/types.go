package analytics

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownWindow is returned for an aggregation window that is not configured
var ErrUnknownWindow = errors.New("unknown aggregation window")

// Window is a named aggregation period with the statistics computed for it
type Window struct {
	Name     string        `json:"name" yaml:"name" mapstructure:"name"`
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	Stats    []string      `json:"stats" yaml:"stats" mapstructure:"stats"`
}

// DefaultWindows returns the 1m, 1h and 1d windows
func DefaultWindows() []Window {
	return []Window{
		{Name: "1m", Interval: time.Minute, Stats: []string{StatAvg, StatMin, StatMax, StatCount}},
		{Name: "1h", Interval: time.Hour, Stats: []string{StatAvg, StatMin, StatMax, StatSum, StatCount, StatP95}},
		{Name: "1d", Interval: 24 * time.Hour, Stats: []string{StatAvg, StatMin, StatMax, StatSum, StatCount, StatMedian, StatP95, StatP99}},
	}
}

// Record is one rollup of a metric over a window
type Record struct {
	Metric    string             `json:"metric" db:"metric"`
	Window    string             `json:"window" db:"window"`
	Timestamp time.Time          `json:"timestamp" db:"timestamp"`
	PeriodMs  int64              `json:"period_ms" db:"period_ms"`
	Count     int                `json:"count" db:"count"`
	Stats     map[string]float64 `json:"stats"`
}

// RollupStore is durable storage for aggregation records keyed by metric and window
type RollupStore interface {
	Append(ctx context.Context, records []Record) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Query(ctx context.Context, metric, window string, since time.Time) ([]Record, error)
}
