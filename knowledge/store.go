// Package knowledge is the persistence layer of the control loop: the
// threshold table the analyzer and planner consult, the plan table the
// planner selects corrective actions from, and the cycle archive that
// receives finished pipeline snapshots. Backed by sqlx over SQLite or
// Postgres.
package knowledge

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hydroworks/aquapilot/errors"
)

// Store owns the database handle shared by the repositories.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to the knowledge base. driver is sqlite3 or postgres.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Open", driver)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for the repositories.
func (s *Store) DB() *sqlx.DB { return s.db }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS thresholds (
		parameter  TEXT PRIMARY KEY,
		min_value  REAL NOT NULL,
		max_value  REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		plan_code   TEXT NOT NULL,
		asset_id    TEXT NOT NULL,
		state       TEXT NOT NULL,
		command     TEXT NOT NULL,
		parameters  TEXT NOT NULL DEFAULT '{}',
		priority    INTEGER NOT NULL DEFAULT 3,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (plan_code, asset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS cycle_archive (
		cycle_id      TEXT PRIMARY KEY,
		pipeline      TEXT NOT NULL,
		started_at    TIMESTAMP NOT NULL,
		completed_at  TIMESTAMP NOT NULL,
		system_state  TEXT NOT NULL,
		quality_score REAL NOT NULL,
		risk_score    REAL NOT NULL,
		snapshot      TEXT NOT NULL
	)`,
}

// Migrate creates the knowledge tables when absent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapFatal(err, "Store", "Migrate", "create tables")
		}
	}
	s.logger.Debug("knowledge schema ready")
	return nil
}
