package models

// MetricRollup is a stored aggregation record
type MetricRollup struct {
	ID          int64  `db:"id"`
	Metric      string `db:"metric"`
	WindowName  string `db:"window_name"`
	TimestampNs int64  `db:"timestamp_ns"`
	PeriodMs    int64  `db:"period_ms"`
	SampleCount int    `db:"sample_count"`
	Stats       string `db:"stats"`
}

// AuditEntry is a stored audit log row
type AuditEntry struct {
	ID        int64  `db:"id"`
	Kind      string `db:"kind"`
	Details   string `db:"details"`
	CreatedNs int64  `db:"created_ns"`
}
