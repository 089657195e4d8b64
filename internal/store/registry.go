package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/aqicast/internal/models"
)

// SaveModelVersion stores a trained model and returns its version number.
func (s *Store) SaveModelVersion(mv models.ModelVersion) (int, error) {
	columns, err := json.Marshal(mv.Columns)
	if err != nil {
		return 0, fmt.Errorf("marshal columns: %w", err)
	}
	pollutants, err := json.Marshal(mv.Pollutants)
	if err != nil {
		return 0, fmt.Errorf("marshal pollutants: %w", err)
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.Exec(`
		INSERT INTO model_versions (run_id, created_at, historical_window, prediction_window, num_predictions,
			columns, pollutants, metric, score, report_json, scaler, model, deployed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE)
	`, mv.RunID, mv.CreatedAt, mv.HistoricalWindow, mv.PredictionWindow, mv.NumPredictions,
		string(columns), string(pollutants), mv.Metric, mv.Score, mv.ReportJSON, mv.Scaler, mv.Model)
	if err != nil {
		return 0, fmt.Errorf("insert model version: %w", err)
	}
	id, err := result.LastInsertId()
	return int(id), err
}

const modelVersionColumns = `version, run_id, created_at, historical_window, prediction_window, num_predictions,
	columns, pollutants, metric, score, report_json, scaler, model, deployed`

func scanModelVersion(sc interface{ Scan(...any) error }, withBlobs bool) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	var columns, pollutants string
	var report sql.NullString
	var scaler, model []byte
	err := sc.Scan(&mv.Version, &mv.RunID, &mv.CreatedAt, &mv.HistoricalWindow, &mv.PredictionWindow,
		&mv.NumPredictions, &columns, &pollutants, &mv.Metric, &mv.Score, &report, &scaler, &model, &mv.Deployed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(columns), &mv.Columns); err != nil {
		return nil, fmt.Errorf("model %d columns: %w", mv.Version, err)
	}
	if err := json.Unmarshal([]byte(pollutants), &mv.Pollutants); err != nil {
		return nil, fmt.Errorf("model %d pollutants: %w", mv.Version, err)
	}
	mv.ReportJSON = report.String
	if withBlobs {
		mv.Scaler, mv.Model = scaler, model
	}
	return &mv, nil
}

func (s *Store) queryModelVersion(where string, args ...any) (*models.ModelVersion, error) {
	row := s.db.QueryRow(`SELECT `+modelVersionColumns+` FROM model_versions `+where, args...)
	mv, err := scanModelVersion(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return mv, err
}

func (s *Store) GetModelVersion(version int) (*models.ModelVersion, error) {
	return s.queryModelVersion(`WHERE version = ?`, version)
}

// BestModelVersion returns the best-scoring version on metric: highest
// score when higherIsBetter, lowest otherwise. Ties go to the newest version.
func (s *Store) BestModelVersion(metric string, higherIsBetter bool) (*models.ModelVersion, error) {
	order := "score DESC"
	if !higherIsBetter {
		order = "score ASC"
	}
	return s.queryModelVersion(`WHERE metric = ? ORDER BY `+order+`, version DESC LIMIT 1`, metric)
}

func (s *Store) DeployedModelVersion() (*models.ModelVersion, error) {
	return s.queryModelVersion(`WHERE deployed = TRUE LIMIT 1`)
}

// Deploy marks version as the single deployed model.
func (s *Store) Deploy(version int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE model_versions SET deployed = FALSE WHERE deployed = TRUE`); err != nil {
		return err
	}
	res, err := tx.Exec(`UPDATE model_versions SET deployed = TRUE WHERE version = ?`, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("model version %d not found", version)
	}
	return tx.Commit()
}

// ListModelVersions returns registry entries newest first, without blobs.
func (s *Store) ListModelVersions(limit int) ([]models.ModelVersion, error) {
	rows, err := s.db.Query(`SELECT `+modelVersionColumns+`
		FROM model_versions ORDER BY version DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ModelVersion
	for rows.Next() {
		mv, err := scanModelVersion(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *mv)
	}
	return out, rows.Err()
}
