package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/models"
)

// Archiver receives rollups before they are pruned
type Archiver interface {
	Archive(ctx context.Context, records []analytics.Record) (string, error)
}

// RollupRepository stores aggregation records in the metric_rollups table
type RollupRepository struct {
	db       *sqlx.DB
	log      *logrus.Logger
	archiver Archiver
}

// NewRollupRepository creates a rollup repository. archiver may be nil.
func NewRollupRepository(db *sqlx.DB, log *logrus.Logger, archiver Archiver) *RollupRepository {
	return &RollupRepository{
		db:       db,
		log:      log,
		archiver: archiver,
	}
}

const selectRollups = `SELECT id, metric, window_name, timestamp_ns, period_ms, sample_count, stats FROM metric_rollups`

// Append inserts records in a single transaction
func (r *RollupRepository) Append(ctx context.Context, records []analytics.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollup transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO metric_rollups
		(metric, window_name, timestamp_ns, period_ms, sample_count, stats) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare rollup insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		stats, err := json.Marshal(rec.Stats)
		if err != nil {
			return fmt.Errorf("failed to encode stats for %s/%s: %w", rec.Metric, rec.Window, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.Metric, rec.Window, rec.Timestamp.UnixNano(), rec.PeriodMs, rec.Count, string(stats)); err != nil {
			r.log.WithError(err).WithField("metric", rec.Metric).Error("Failed to insert rollup")
			return fmt.Errorf("failed to insert rollup: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollups: %w", err)
	}
	return nil
}

// Prune deletes records older than cutoff, archiving them first when an archiver is set
func (r *RollupRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.archiver != nil {
		var rows []models.MetricRollup
		if err := r.db.SelectContext(ctx, &rows, selectRollups+` WHERE timestamp_ns < ? ORDER BY timestamp_ns`, cutoff.UnixNano()); err != nil {
			return 0, fmt.Errorf("failed to select expired rollups: %w", err)
		}
		records, err := toRecords(rows)
		if err != nil {
			return 0, err
		}
		if _, err := r.archiver.Archive(ctx, records); err != nil {
			return 0, fmt.Errorf("failed to archive expired rollups: %w", err)
		}
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM metric_rollups WHERE timestamp_ns < ?`, cutoff.UnixNano())
	if err != nil {
		r.log.WithError(err).Error("Failed to prune rollups")
		return 0, fmt.Errorf("failed to prune rollups: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rollups: %w", err)
	}
	return removed, nil
}

// Query returns records of a metric and window at or after since, oldest first
func (r *RollupRepository) Query(ctx context.Context, metric, window string, since time.Time) ([]analytics.Record, error) {
	var rows []models.MetricRollup
	err := r.db.SelectContext(ctx, &rows,
		selectRollups+` WHERE metric = ? AND window_name = ? AND timestamp_ns >= ? ORDER BY timestamp_ns, id`,
		metric, window, sinceNanos(since))
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"metric": metric,
			"window": window,
		}).Error("Failed to query rollups")
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	return toRecords(rows)
}

// Metrics returns the distinct metric names with stored rollups
func (r *RollupRepository) Metrics(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.SelectContext(ctx, &names, `SELECT DISTINCT metric FROM metric_rollups ORDER BY metric`); err != nil {
		return nil, fmt.Errorf("failed to list rollup metrics: %w", err)
	}
	return names, nil
}

// sinceNanos clamps times outside the int64 nanosecond range
func sinceNanos(t time.Time) int64 {
	if t.IsZero() || t.Year() < 1678 {
		return 0
	}
	return t.UnixNano()
}

func toRecords(rows []models.MetricRollup) ([]analytics.Record, error) {
	records := make([]analytics.Record, 0, len(rows))
	for _, row := range rows {
		stats := make(map[string]float64)
		if err := json.Unmarshal([]byte(row.Stats), &stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats of rollup %d: %w", row.ID, err)
		}
		records = append(records, analytics.Record{
			Metric:    row.Metric,
			Window:    row.WindowName,
			Timestamp: time.Unix(0, row.TimestampNs).UTC(),
			PeriodMs:  row.PeriodMs,
			Count:     row.SampleCount,
			Stats:     stats,
		})
	}
	return records, nil
}
