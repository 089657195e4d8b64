package store

import (
	"database/sql"
	"fmt"
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
CREATE TABLE IF NOT EXISTS stations (
    station_id TEXT PRIMARY KEY,
    name TEXT,
    latitude REAL,
    longitude REAL,
    elevation REAL,
    timezone TEXT
);

CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_id TEXT NOT NULL,
    observed_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    pm25 REAL,
    pm10 REAL,
    o3 REAL,
    no2 REAL,
    so2 REAL,
    co REAL,
    temp REAL,
    humidity REAL,
    pressure REAL,
    wind REAL,
    dew REAL,
    quality_flags TEXT,
    raw_json TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(station_id, observed_at, source)
);

CREATE INDEX IF NOT EXISTS idx_readings_station_time ON readings(station_id, observed_at);

CREATE TABLE IF NOT EXISTS daily_weather (
    station_id TEXT NOT NULL,
    date TEXT NOT NULL,
    tavg REAL,
    tmin REAL,
    tmax REAL,
    prcp REAL,
    snow REAL,
    wspd REAL,
    wpgt REAL,
    pres REAL,
    fetched_at DATETIME NOT NULL,
    PRIMARY KEY (station_id, date)
);
`,
	},
	{
		Version:     2,
		Description: "Add ingest audit tables",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    station_id TEXT,
    http_status INTEGER,
    response_size_bytes INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER REFERENCES ingest_runs(id),
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    station_id TEXT,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER NOT NULL DEFAULT 1
);
`,
	},
	{
		Version:     3,
		Description: "Add model registry",
		SQL: `
CREATE TABLE IF NOT EXISTS model_versions (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL,
    historical_window INTEGER NOT NULL,
    prediction_window INTEGER NOT NULL,
    num_predictions INTEGER NOT NULL,
    columns TEXT NOT NULL,
    pollutants TEXT NOT NULL,
    metric TEXT NOT NULL,
    score REAL NOT NULL,
    report_json TEXT,
    scaler BLOB NOT NULL,
    model BLOB NOT NULL,
    deployed BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_model_versions_score ON model_versions(metric, score);
`,
	},
	{
		Version:     4,
		Description: "Add issued forecasts and verification",
		SQL: `
CREATE TABLE IF NOT EXISTS issued_forecasts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_version INTEGER NOT NULL REFERENCES model_versions(version),
    issued_at DATETIME NOT NULL,
    valid_date TEXT NOT NULL,
    day_of_forecast INTEGER NOT NULL,
    pollutant TEXT NOT NULL,
    value REAL NOT NULL,
    UNIQUE(model_version, issued_at, valid_date, pollutant)
);

CREATE INDEX IF NOT EXISTS idx_issued_valid ON issued_forecasts(valid_date);

CREATE TABLE IF NOT EXISTS forecast_verification (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    forecast_id INTEGER NOT NULL UNIQUE REFERENCES issued_forecasts(id),
    valid_date TEXT NOT NULL,
    day_of_forecast INTEGER NOT NULL,
    pollutant TEXT NOT NULL,
    forecast REAL NOT NULL,
    actual REAL NOT NULL,
    bias REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS verification_stats (
    pollutant TEXT NOT NULL,
    day_of_forecast INTEGER NOT NULL,
    window_days INTEGER NOT NULL,
    sample_size INTEGER NOT NULL,
    mean_bias REAL NOT NULL,
    mae REAL NOT NULL,
    rmse REAL NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (pollutant, day_of_forecast)
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

		s.log.Infow("migrations: applying", "version", m.Version, "description", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		s.log.Infow("migrations: completed", "version", m.Version)
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
