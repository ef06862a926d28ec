package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/clrfund/setup-mpc-ui/internal/config"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

func NewDB(cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return db, nil
}

// Migrate applies the ceremony schema. Statements are idempotent so the
// command can run on every deploy.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ceremonies (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			hash TEXT NOT NULL DEFAULT '',
			current_index INTEGER NOT NULL DEFAULT 1,
			last_queue_index INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			uid TEXT PRIMARY KEY,
			auth_id TEXT NOT NULL,
			state TEXT NOT NULL,
			online BOOLEAN NOT NULL DEFAULT FALSE,
			compute_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			added_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contributions (
			ceremony_id TEXT NOT NULL REFERENCES ceremonies (id),
			participant_id TEXT NOT NULL REFERENCES participants (uid),
			queue_index INTEGER NOT NULL,
			prior_index INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			hash TEXT,
			params_file TEXT,
			duration DOUBLE PRECISION,
			PRIMARY KEY (ceremony_id, participant_id),
			UNIQUE (ceremony_id, queue_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_status ON contributions (status)`,
		`CREATE TABLE IF NOT EXISTS queue_assignments (
			ceremony_id TEXT NOT NULL REFERENCES ceremonies (id),
			participant_id TEXT NOT NULL REFERENCES participants (uid),
			queue_index INTEGER NOT NULL,
			assigned_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (ceremony_id, participant_id),
			UNIQUE (ceremony_id, queue_index)
		)`,
		`CREATE TABLE IF NOT EXISTS ceremony_events (
			id TEXT PRIMARY KEY,
			ceremony_id TEXT NOT NULL REFERENCES ceremonies (id),
			sender TEXT NOT NULL,
			"index" INTEGER,
			event_type TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			acknowledged BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ceremony_events_timestamp ON ceremony_events (ceremony_id, timestamp DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply migration")
		}
	}
	return nil
}
