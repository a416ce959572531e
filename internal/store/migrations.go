package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS radial_samples (
    time_ns INTEGER NOT NULL,
    range_m REAL NOT NULL,
    scan_id INTEGER NOT NULL,
    los_id INTEGER,
    azimuth REAL NOT NULL,
    elevation REAL NOT NULL,
    cnr REAL,
    radial_velocity REAL NOT NULL,
    confidence_index REAL,
    PRIMARY KEY (time_ns, range_m)
);

CREATE TABLE IF NOT EXISTS dbs_samples (
    time_ns INTEGER NOT NULL,
    range_m REAL NOT NULL,
    scan_id INTEGER NOT NULL,
    x_wind REAL,
    y_wind REAL,
    z_wind REAL,
    confidence_index REAL,
    PRIMARY KEY (time_ns, range_m)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    property TEXT NOT NULL,
    file_name TEXT,
    size_bytes INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS raw_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER REFERENCES ingest_runs(id),
    fetched_at DATETIME NOT NULL,
    property TEXT NOT NULL,
    file_name TEXT NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_radial_scan_time ON radial_samples(scan_id, time_ns);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
`,
	},
	{
		Version:     2,
		Description: "Add VAD wind records",
		SQL: `
CREATE TABLE IF NOT EXISTS wind_records (
    elevation_label INTEGER NOT NULL,
    time_ns INTEGER NOT NULL,
    range_m REAL NOT NULL,
    elevation REAL NOT NULL,
    speed REAL,
    vertical REAL,
    direction REAL,
    rsquared REAL NOT NULL,
    confidence_index REAL,
    function_calls INTEGER NOT NULL,
    PRIMARY KEY (elevation_label, time_ns, range_m)
);

CREATE INDEX IF NOT EXISTS idx_wind_time ON wind_records(time_ns);
`,
	},
	{
		Version:     3,
		Description: "Add retrieval run summaries",
		SQL: `
CREATE TABLE IF NOT EXISTS retrieval_runs (
    date TEXT NOT NULL,
    elevation_label INTEGER NOT NULL,
    scans INTEGER NOT NULL,
    passed INTEGER NOT NULL,
    gated INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    duration_ms INTEGER,
    completed_at DATETIME NOT NULL,
    PRIMARY KEY (date, elevation_label)
);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
