package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/models"
)

// AuditEvent is a decoded audit log entry
type AuditEvent struct {
	ID        int64                  `json:"id"`
	Kind      string                 `json:"kind"`
	Details   map[string]interface{} `json:"details"`
	CreatedAt time.Time              `json:"created_at"`
}

// AuditRepository records alert lifecycle events in the audit_log table
type AuditRepository struct {
	db    *sqlx.DB
	log   *logrus.Logger
	clock clock.Clock
}

// NewAuditRepository creates an audit repository
func NewAuditRepository(db *sqlx.DB, log *logrus.Logger, clk clock.Clock) *AuditRepository {
	if clk == nil {
		clk = clock.Real()
	}
	return &AuditRepository{
		db:    db,
		log:   log,
		clock: clk,
	}
}

// Log appends an audit entry
func (r *AuditRepository) Log(ctx context.Context, kind string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO audit_log (kind, details, created_ns) VALUES (?, ?, ?)`,
		kind, string(payload), r.clock.Now().UnixNano())
	if err != nil {
		r.log.WithError(err).WithField("kind", kind).Error("Failed to write audit entry")
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// List returns the newest entries first. An empty kind matches every entry.
func (r *AuditRepository) List(ctx context.Context, kind string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, kind, details, created_ns FROM audit_log`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_ns DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var rows []models.AuditEntry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithError(err).Error("Failed to list audit entries")
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	events := make([]AuditEvent, 0, len(rows))
	for _, row := range rows {
		var details map[string]interface{}
		if err := json.Unmarshal([]byte(row.Details), &details); err != nil {
			return nil, fmt.Errorf("failed to decode audit entry %d: %w", row.ID, err)
		}
		events = append(events, AuditEvent{
			ID:        row.ID,
			Kind:      row.Kind,
			Details:   details,
			CreatedAt: time.Unix(0, row.CreatedNs).UTC(),
		})
	}
	return events, nil
}

// Prune deletes entries older than cutoff
func (r *AuditRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	return result.RowsAffected()
}
