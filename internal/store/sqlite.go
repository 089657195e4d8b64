package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/models"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
	log *zap.SugaredLogger
}

func New(db *sql.DB, loc *time.Location, log *zap.SugaredLogger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{db: db, loc: loc, log: log}
}

// Open opens the sqlite database at path with foreign keys and WAL enabled.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}

func (s *Store) Location() *time.Location { return s.loc }

func (s *Store) UpsertStation(st models.Station) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (station_id, name, latitude, longitude, elevation, timezone)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			elevation = excluded.elevation,
			timezone = excluded.timezone
	`, st.StationID, st.Name, st.Latitude, st.Longitude, st.Elevation, st.Timezone)
	return err
}

func (s *Store) GetStation(stationID string) (*models.Station, error) {
	var st models.Station
	err := s.db.QueryRow(`
		SELECT station_id, name, latitude, longitude, elevation, timezone
		FROM stations WHERE station_id = ?
	`, stationID).Scan(&st.StationID, &st.Name, &st.Latitude, &st.Longitude, &st.Elevation, &st.Timezone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

const readingColumns = `id, station_id, observed_at, source, pm25, pm10, o3, no2, so2, co,
	temp, humidity, pressure, wind, dew, quality_flags, raw_json, created_at`

func scanReading(sc interface{ Scan(...any) error }) (models.Reading, error) {
	var r models.Reading
	var flags, raw sql.NullString
	err := sc.Scan(&r.ID, &r.StationID, &r.ObservedAt, &r.Source, &r.PM25, &r.PM10, &r.O3, &r.NO2, &r.SO2, &r.CO,
		&r.Temp, &r.Humidity, &r.Pressure, &r.Wind, &r.Dew, &flags, &raw, &r.CreatedAt)
	r.QualityFlags = flags.String
	r.RawJSON = raw.String
	return r, err
}

// InsertReading stores r and reports whether it was new. A reading for the
// same station, time and source is ignored.
func (s *Store) InsertReading(r models.Reading) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO readings (station_id, observed_at, source, pm25, pm10, o3, no2, so2, co,
			temp, humidity, pressure, wind, dew, quality_flags, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, observed_at, source) DO NOTHING
	`, r.StationID, r.ObservedAt.UTC(), r.Source, r.PM25, r.PM10, r.O3, r.NO2, r.SO2, r.CO,
		r.Temp, r.Humidity, r.Pressure, r.Wind, r.Dew, r.QualityFlags, r.RawJSON)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertReadings stores readings in one transaction and returns how many
// were new.
func (s *Store) InsertReadings(readings []models.Reading) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO readings (station_id, observed_at, source, pm25, pm10, o3, no2, so2, co,
			temp, humidity, pressure, wind, dew, quality_flags, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, observed_at, source) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	stored := 0
	for _, r := range readings {
		res, err := stmt.Exec(r.StationID, r.ObservedAt.UTC(), r.Source, r.PM25, r.PM10, r.O3, r.NO2, r.SO2, r.CO,
			r.Temp, r.Humidity, r.Pressure, r.Wind, r.Dew, r.QualityFlags, r.RawJSON)
		if err != nil {
			return 0, fmt.Errorf("insert reading %s: %w", r.ObservedAt.Format(time.RFC3339), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			stored++
		}
	}
	return stored, tx.Commit()
}

func (s *Store) GetLatestReading(stationID string) (*models.Reading, error) {
	row := s.db.QueryRow(`SELECT `+readingColumns+`
		FROM readings
		WHERE station_id = ? AND source != 'archive'
		ORDER BY observed_at DESC
		LIMIT 1
	`, stationID)
	r, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReadings returns readings observed in [start, end), oldest first.
func (s *Store) GetReadings(stationID string, start, end time.Time) ([]models.Reading, error) {
	rows, err := s.db.Query(`SELECT `+readingColumns+`
		FROM readings
		WHERE station_id = ? AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at ASC
	`, stationID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// GetAllReadings returns every reading for the station, oldest first.
func (s *Store) GetAllReadings(stationID string) ([]models.Reading, error) {
	return s.GetReadings(stationID, time.Unix(0, 0), time.Now().AddDate(1, 0, 0))
}

// GetDailyMean averages the station's readings over one local calendar day.
// Live readings take precedence over archive rows for the same day.
func (s *Store) GetDailyMean(stationID string, date time.Time, pollutants []string) (map[string]float64, error) {
	localDate := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)
	y, m, d := localDate.Date()
	startUTC := localDate.UTC()
	endUTC := time.Date(y, m, d+1, 0, 0, 0, 0, s.loc).UTC()

	out := make(map[string]float64, len(pollutants))
	for _, source := range []string{"live", "archive"} {
		cond := "source != 'archive'"
		if source == "archive" {
			cond = "source = 'archive'"
		}
		selects := make([]string, len(pollutants))
		for i, p := range pollutants {
			col, ok := readingColumn(p)
			if !ok {
				return nil, fmt.Errorf("unknown pollutant %q", p)
			}
			selects[i] = "AVG(" + col + ")"
		}
		values := make([]sql.NullFloat64, len(pollutants))
		dest := make([]any, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		err := s.db.QueryRow(`SELECT `+strings.Join(selects, ", ")+`
			FROM readings
			WHERE station_id = ? AND observed_at >= ? AND observed_at < ? AND `+cond,
			stationID, startUTC, endUTC).Scan(dest...)
		if err != nil {
			return nil, err
		}
		for i, p := range pollutants {
			if _, done := out[p]; done || !values[i].Valid {
				continue
			}
			out[p] = values[i].Float64
		}
		if len(out) == len(pollutants) {
			break
		}
	}
	return out, nil
}

func readingColumn(name string) (string, bool) {
	switch name {
	case "pm25", "pm10", "o3", "no2", "so2", "co", "dew":
		return name, true
	case "t":
		return "temp", true
	case "h":
		return "humidity", true
	case "p":
		return "pressure", true
	case "w":
		return "wind", true
	}
	return "", false
}

func (s *Store) CountReadings(stationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM readings WHERE station_id = ?`, stationID).Scan(&n)
	return n, err
}

func (s *Store) UpsertDailyWeather(stationID string, days []models.DailyWeather) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, w := range days {
		_, err := tx.Exec(`
			INSERT INTO daily_weather (station_id, date, tavg, tmin, tmax, prcp, snow, wspd, wpgt, pres, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(station_id, date) DO UPDATE SET
				tavg = excluded.tavg,
				tmin = excluded.tmin,
				tmax = excluded.tmax,
				prcp = excluded.prcp,
				snow = excluded.snow,
				wspd = excluded.wspd,
				wpgt = excluded.wpgt,
				pres = excluded.pres,
				fetched_at = excluded.fetched_at
		`, stationID, w.Date.Format(time.DateOnly), w.Tavg, w.Tmin, w.Tmax, w.Prcp, w.Snow, w.Wspd, w.Wpgt, w.Pres, now)
		if err != nil {
			return fmt.Errorf("upsert weather %s: %w", w.Date.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}

// GetDailyWeather returns weather for dates in [start, end], oldest first.
func (s *Store) GetDailyWeather(stationID string, start, end time.Time) ([]models.DailyWeather, error) {
	rows, err := s.db.Query(`
		SELECT date, tavg, tmin, tmax, prcp, snow, wspd, wpgt, pres
		FROM daily_weather
		WHERE station_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, stationID, start.Format(time.DateOnly), end.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []models.DailyWeather
	for rows.Next() {
		var w models.DailyWeather
		var date string
		if err := rows.Scan(&date, &w.Tavg, &w.Tmin, &w.Tmax, &w.Prcp, &w.Snow, &w.Wspd, &w.Wpgt, &w.Pres); err != nil {
			return nil, err
		}
		if w.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("parse weather date %q: %w", date, err)
		}
		days = append(days, w)
	}
	return days, rows.Err()
}

// LatestWeatherDate returns the most recent stored weather date, or the
// zero time when none is stored.
func (s *Store) LatestWeatherDate(stationID string) (time.Time, error) {
	var date sql.NullString
	if err := s.db.QueryRow(`SELECT MAX(date) FROM daily_weather WHERE station_id = ?`, stationID).Scan(&date); err != nil {
		return time.Time{}, err
	}
	if !date.Valid {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, date.String)
}
