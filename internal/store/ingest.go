package store

import (
	"database/sql"
	"time"
)

// IngestRun audits one fetch from an upstream source.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "waqi", "open-meteo", "archive"
	Endpoint          string
	StationID         sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	RecordsStored     sql.NullInt64
	ParseErrors       sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// Fail marks the run failed with err's message.
func (r *IngestRun) Fail(err error) {
	if r == nil || err == nil {
		return
	}
	r.Success = false
	r.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
}

// Succeed records a successful run that parsed and stored the given counts.
func (r *IngestRun) Succeed(parsed, stored int) {
	if r == nil {
		return
	}
	r.Success = true
	r.RecordsParsed = sql.NullInt64{Int64: int64(parsed), Valid: true}
	r.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
}

func (s *Store) StartIngestRun(source, endpoint, stationID string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}
	if stationID != "" {
		run.StationID = sql.NullString{String: stationID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, source, endpoint, station_id, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Endpoint, run.StationID)
	if err != nil {
		return nil, err
	}
	if run.ID, err = result.LastInsertId(); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			records_stored = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed,
		run.RecordsStored, run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	return err
}

// IngestHealth summarizes ingest runs per day, source and endpoint.
type IngestHealth struct {
	Date         string `json:"date"`
	Source       string `json:"source"`
	Endpoint     string `json:"endpoint"`
	TotalRuns    int    `json:"total_runs"`
	SuccessRuns  int    `json:"success_runs"`
	FailedRuns   int    `json:"failed_runs"`
	TotalRecords int64  `json:"total_records"`
}

// GetIngestHealth returns the run summary for the last days days, newest first.
func (s *Store) GetIngestHealth(days int) ([]IngestHealth, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) AS date,
			source,
			endpoint,
			COUNT(*),
			SUM(CASE WHEN success THEN 1 ELSE 0 END),
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END),
			COALESCE(SUM(records_stored), 0)
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, source, endpoint
		ORDER BY date DESC, source, endpoint
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestHealth
	for rows.Next() {
		var h IngestHealth
		if err := rows.Scan(&h.Date, &h.Source, &h.Endpoint, &h.TotalRuns,
			&h.SuccessRuns, &h.FailedRuns, &h.TotalRecords); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// LastSuccessfulRun returns the finish time of the newest successful run
// for source, or the zero time.
func (s *Store) LastSuccessfulRun(source string) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow(`
		SELECT finished_at FROM ingest_runs
		WHERE source = ? AND success = TRUE AND finished_at IS NOT NULL
		ORDER BY started_at DESC LIMIT 1
	`, source).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.Time, nil
}
