// ABOUTME: SQLite implementation of the Storage interface using modernc.org/sqlite
// ABOUTME: Provides status/event/anomaly/metrics persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Storage interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS collaboration_status (
			pair_id               TEXT PRIMARY KEY,
			agent_a               TEXT NOT NULL,
			agent_b               TEXT NOT NULL,
			session_ref_a         TEXT,
			session_ref_b         TEXT,
			activity_a            REAL NOT NULL,
			activity_b            REAL NOT NULL,
			integrity_a           REAL NOT NULL,
			integrity_b           REAL NOT NULL,
			latency_a             INTEGER NOT NULL,
			latency_b             INTEGER NOT NULL,
			synchrony_score       REAL NOT NULL,
			phase                 TEXT NOT NULL,
			conflict_level        TEXT NOT NULL,
			orchestration_mode    TEXT NOT NULL,
			last_collaboration_at TEXT,
			updated_at            TEXT NOT NULL,

			CHECK (phase IN ('independent', 'synchronized', 'handoff', 'conflict', 'orchestration')),
			CHECK (conflict_level IN ('none', 'low', 'medium', 'high', 'critical')),
			CHECK (orchestration_mode IN ('manual', 'auto_mediated', 'disabled'))
		);

		CREATE TABLE IF NOT EXISTS collaboration_events (
			event_id    TEXT PRIMARY KEY,
			pair_id     TEXT NOT NULL,
			type        TEXT NOT NULL,
			initiator   TEXT NOT NULL,
			target      TEXT,
			outcome     TEXT NOT NULL,
			ts          TEXT NOT NULL,
			details_json TEXT,
			operator_id TEXT,

			CHECK (outcome IN ('pending', 'success', 'failure'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_pair_ts
			ON collaboration_events(pair_id, ts);

		CREATE INDEX IF NOT EXISTS idx_events_pair_type_ts
			ON collaboration_events(pair_id, type, ts);

		CREATE TABLE IF NOT EXISTS anomalies (
			anomaly_id        TEXT PRIMARY KEY,
			pair_id           TEXT NOT NULL,
			type              TEXT NOT NULL,
			severity          TEXT NOT NULL,
			description       TEXT NOT NULL,
			metrics_json      TEXT,
			resolution_status TEXT NOT NULL,
			notified          INTEGER NOT NULL DEFAULT 0,
			detected_at       TEXT NOT NULL,
			resolved_at       TEXT,

			CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			CHECK (resolution_status IN ('pending', 'investigating', 'resolved', 'false_positive'))
		);

		CREATE INDEX IF NOT EXISTS idx_anomalies_pair_detected
			ON anomalies(pair_id, detected_at);

		CREATE TABLE IF NOT EXISTS metrics_windows (
			pair_id            TEXT NOT NULL,
			window_type        TEXT NOT NULL,
			window_start       TEXT NOT NULL,
			messages_total     INTEGER NOT NULL,
			messages_a         INTEGER NOT NULL,
			messages_b         INTEGER NOT NULL,
			event_count        INTEGER NOT NULL,
			conflict_count     INTEGER NOT NULL,
			avg_synchrony      REAL NOT NULL,
			avg_latency_a      INTEGER NOT NULL,
			avg_latency_b      INTEGER NOT NULL,
			integrity_failures INTEGER NOT NULL,

			PRIMARY KEY (pair_id, window_type, window_start),
			CHECK (window_type IN ('minute', 'hour', 'day'))
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor_id    TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_actor_ts ON audit_log(actor_id, ts);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
