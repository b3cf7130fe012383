package sqlite_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/botpanel-monitor/internal/config"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/database"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/archive"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/sqlite"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Initialize(config.DatabaseConfig{Path: database.MemoryPath}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(db.DB))
	return db
}

func rollup(metric, window string, ts time.Time, avg float64) analytics.Record {
	return analytics.Record{
		Metric:    metric,
		Window:    window,
		Timestamp: ts,
		PeriodMs:  60000,
		Count:     3,
		Stats:     map[string]float64{"avg": avg, "count": 3},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, database.Migrate(db.DB))

	version, dirty, err := database.MigrationVersion(db.DB)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestRollupRepository_AppendAndQuery(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewRollupRepository(db, quietLogger(), nil)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, []analytics.Record{
		rollup("queue.depth", "1m", testStart, 10),
		rollup("queue.depth", "1m", testStart.Add(time.Minute), 20),
		rollup("queue.depth", "1h", testStart.Add(time.Minute), 15),
		rollup("memory.used", "1m", testStart.Add(time.Minute), 512),
	}))

	records, err := repo.Query(ctx, "queue.depth", "1m", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, testStart.Equal(records[0].Timestamp))
	assert.Equal(t, 20.0, records[1].Stats["avg"])
	assert.Equal(t, 3, records[1].Count)
	assert.Equal(t, int64(60000), records[1].PeriodMs)

	records, err = repo.Query(ctx, "queue.depth", "1m", testStart.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)

	names, err := repo.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"memory.used", "queue.depth"}, names)
}

func TestRollupRepository_AppendEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewRollupRepository(db, quietLogger(), nil)
	assert.NoError(t, repo.Append(context.Background(), nil))
}

func TestRollupRepository_PruneArchives(t *testing.T) {
	db := setupTestDB(t)
	archiver, err := archive.NewRollupArchiver(t.TempDir(), quietLogger())
	require.NoError(t, err)
	repo := sqlite.NewRollupRepository(db, quietLogger(), archiver)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, []analytics.Record{
		rollup("queue.depth", "1m", testStart, 10),
		rollup("queue.depth", "1m", testStart.Add(time.Minute), 20),
		rollup("queue.depth", "1m", testStart.Add(2*time.Minute), 30),
	}))

	removed, err := repo.Prune(ctx, testStart.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	remaining, err := repo.Query(ctx, "queue.depth", "1m", time.Time{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 30.0, remaining[0].Stats["avg"])

	files, err := archiver.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	archived, err := archive.ReadFile(files[0])
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, 10.0, archived[0].Stats["avg"])

	// nothing left to archive
	removed, err = repo.Prune(ctx, testStart.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, removed)
	files, err = archiver.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRollupRepository_WithAggregator(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewRollupRepository(db, quietLogger(), nil)

	var store analytics.RollupStore = repo
	require.NoError(t, store.Append(context.Background(), []analytics.Record{rollup("bot.messages", "1d", testStart, 7)}))

	records, err := store.Query(context.Background(), "bot.messages", "1d", testStart.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAuditRepository_LogAndList(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFake(testStart)
	repo := sqlite.NewAuditRepository(db, quietLogger(), clk)
	ctx := context.Background()

	require.NoError(t, repo.Log(ctx, "alert.activated", map[string]interface{}{"rule": "queue_backlog", "value": 120}))
	clk.Advance(time.Minute)
	require.NoError(t, repo.Log(ctx, "alert.resolved", map[string]interface{}{"rule": "queue_backlog"}))
	clk.Advance(time.Minute)
	require.NoError(t, repo.Log(ctx, "alert.activated", nil))

	all, err := repo.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alert.activated", all[0].Kind)
	assert.Empty(t, all[0].Details)
	assert.Equal(t, "alert.resolved", all[1].Kind)
	assert.True(t, testStart.Add(time.Minute).Equal(all[1].CreatedAt))

	activated, err := repo.List(ctx, "alert.activated", 10)
	require.NoError(t, err)
	require.Len(t, activated, 2)
	assert.Equal(t, "queue_backlog", activated[1].Details["rule"])
	assert.Equal(t, float64(120), activated[1].Details["value"])

	limited, err := repo.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	removed, err := repo.Prune(ctx, testStart.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
