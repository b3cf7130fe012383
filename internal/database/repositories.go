package database

import (
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/sqlite"
)

// Repositories holds all repository instances
type Repositories struct {
	Rollups *sqlite.RollupRepository
	Audit   *sqlite.AuditRepository
}

// NewRepositories creates all repository instances. archiver may be nil.
func NewRepositories(db *sqlx.DB, archiver sqlite.Archiver, clk clock.Clock, logger *logrus.Logger) *Repositories {
	return &Repositories{
		Rollups: sqlite.NewRollupRepository(db, logger, archiver),
		Audit:   sqlite.NewAuditRepository(db, logger, clk),
	}
}
