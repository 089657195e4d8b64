package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/aqicast/internal/models"
)

// InsertIssuedForecasts records the values of a served forecast. Re-issuing
// the same forecast is a no-op.
func (s *Store) InsertIssuedForecasts(forecasts []models.IssuedForecast) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range forecasts {
		_, err := tx.Exec(`
			INSERT INTO issued_forecasts (model_version, issued_at, valid_date, day_of_forecast, pollutant, value)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(model_version, issued_at, valid_date, pollutant) DO NOTHING
		`, f.ModelVersion, f.IssuedAt.UTC(), f.ValidDate.Format(time.DateOnly), f.DayOfForecast, f.Pollutant, f.Value)
		if err != nil {
			return fmt.Errorf("insert forecast %s %s: %w", f.Pollutant, f.ValidDate.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}

func scanIssued(rows *sql.Rows) ([]models.IssuedForecast, error) {
	defer rows.Close()
	var out []models.IssuedForecast
	for rows.Next() {
		var f models.IssuedForecast
		var date string
		if err := rows.Scan(&f.ID, &f.ModelVersion, &f.IssuedAt, &date, &f.DayOfForecast, &f.Pollutant, &f.Value); err != nil {
			return nil, err
		}
		var err error
		if f.ValidDate, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("parse valid date %q: %w", date, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetUnverifiedForecasts returns issued forecasts valid on or before date
// that have no verification yet. Only the first issue per valid date,
// pollutant and lead day is returned.
func (s *Store) GetUnverifiedForecasts(through time.Time) ([]models.IssuedForecast, error) {
	rows, err := s.db.Query(`
		SELECT f.id, f.model_version, f.issued_at, f.valid_date, f.day_of_forecast, f.pollutant, f.value
		FROM issued_forecasts f
		INNER JOIN (
			SELECT valid_date, pollutant, day_of_forecast, MIN(issued_at) AS first_issue
			FROM issued_forecasts
			WHERE valid_date <= ?
			GROUP BY valid_date, pollutant, day_of_forecast
		) sel ON f.valid_date = sel.valid_date
		     AND f.pollutant = sel.pollutant
		     AND f.day_of_forecast = sel.day_of_forecast
		     AND f.issued_at = sel.first_issue
		LEFT JOIN forecast_verification v ON v.forecast_id = f.id
		WHERE v.id IS NULL
		ORDER BY f.valid_date, f.pollutant, f.day_of_forecast
	`, through.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	return scanIssued(rows)
}

// GetLatestIssuedForecast returns every value of the newest issued forecast.
func (s *Store) GetLatestIssuedForecast() ([]models.IssuedForecast, error) {
	rows, err := s.db.Query(`
		SELECT id, model_version, issued_at, valid_date, day_of_forecast, pollutant, value
		FROM issued_forecasts
		WHERE issued_at = (SELECT MAX(issued_at) FROM issued_forecasts)
		ORDER BY valid_date, pollutant
	`)
	if err != nil {
		return nil, err
	}
	return scanIssued(rows)
}

func (s *Store) InsertForecastVerification(v models.ForecastVerification) error {
	_, err := s.db.Exec(`
		INSERT INTO forecast_verification (forecast_id, valid_date, day_of_forecast, pollutant, forecast, actual, bias)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(forecast_id) DO NOTHING
	`, v.ForecastID, v.ValidDate.Format(time.DateOnly), v.DayOfForecast, v.Pollutant, v.Forecast, v.Actual, v.Bias)
	return err
}

// GetVerifications returns verification rows for valid dates on or after
// since, oldest first.
func (s *Store) GetVerifications(since time.Time) ([]models.ForecastVerification, error) {
	rows, err := s.db.Query(`
		SELECT id, forecast_id, valid_date, day_of_forecast, pollutant, forecast, actual, bias, created_at
		FROM forecast_verification
		WHERE valid_date >= ?
		ORDER BY valid_date, pollutant, day_of_forecast
	`, since.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ForecastVerification
	for rows.Next() {
		var v models.ForecastVerification
		var date string
		if err := rows.Scan(&v.ID, &v.ForecastID, &date, &v.DayOfForecast, &v.Pollutant,
			&v.Forecast, &v.Actual, &v.Bias, &v.CreatedAt); err != nil {
			return nil, err
		}
		if v.ValidDate, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("parse valid date %q: %w", date, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpsertVerificationStats(stats models.VerificationStats) error {
	_, err := s.db.Exec(`
		INSERT INTO verification_stats (pollutant, day_of_forecast, window_days, sample_size, mean_bias, mae, rmse, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pollutant, day_of_forecast) DO UPDATE SET
			window_days = excluded.window_days,
			sample_size = excluded.sample_size,
			mean_bias = excluded.mean_bias,
			mae = excluded.mae,
			rmse = excluded.rmse,
			updated_at = excluded.updated_at
	`, stats.Pollutant, stats.DayOfForecast, stats.WindowDays, stats.SampleSize, stats.MeanBias, stats.MAE, stats.RMSE, stats.UpdatedAt)
	return err
}

// GetVerificationStats returns stats keyed by pollutant, then lead day.
func (s *Store) GetVerificationStats() (map[string]map[int]models.VerificationStats, error) {
	rows, err := s.db.Query(`
		SELECT pollutant, day_of_forecast, window_days, sample_size, mean_bias, mae, rmse, updated_at
		FROM verification_stats
		ORDER BY pollutant, day_of_forecast
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[int]models.VerificationStats)
	for rows.Next() {
		var v models.VerificationStats
		if err := rows.Scan(&v.Pollutant, &v.DayOfForecast, &v.WindowDays, &v.SampleSize,
			&v.MeanBias, &v.MAE, &v.RMSE, &v.UpdatedAt); err != nil {
			return nil, err
		}
		if out[v.Pollutant] == nil {
			out[v.Pollutant] = make(map[int]models.VerificationStats)
		}
		out[v.Pollutant][v.DayOfForecast] = v
	}
	return out, rows.Err()
}
