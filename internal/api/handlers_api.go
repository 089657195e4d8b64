package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/lox/aqicast/internal/forecast"
	"github.com/lox/aqicast/internal/models"
)

// forecastResponse is a served forecast plus the corrections applied to it.
type forecastResponse struct {
	*forecast.Forecast
	Corrected   bool                                   `json:"corrected"`
	Corrections map[int]map[string]forecast.Correction `json:"corrections,omitempty"`
}

// handleForecast predicts from the deployed model. Values are bias corrected
// from verification stats unless raw=true.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	fc, err := s.service.Forecast(r.Context())
	if err != nil {
		s.writeError(w, forecastStatus(err), err)
		return
	}
	resp := forecastResponse{Forecast: fc}
	if raw, _ := strconv.ParseBool(r.URL.Query().Get("raw")); !raw {
		stats, err := s.store.GetVerificationStats()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Forecast = fc.Corrected(stats)
		resp.Corrected = true
		resp.Corrections = corrections(fc, stats)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func corrections(fc *forecast.Forecast, stats forecast.Stats) map[int]map[string]forecast.Correction {
	out := make(map[int]map[string]forecast.Correction)
	for _, d := range fc.Days {
		for name := range d.IAQI {
			c := forecast.CorrectionFor(stats, name, d.DayOfForecast)
			if c.DayUsed < 0 {
				continue
			}
			if out[d.DayOfForecast] == nil {
				out[d.DayOfForecast] = make(map[string]forecast.Correction)
			}
			out[d.DayOfForecast][name] = c
		}
	}
	return out
}

func forecastStatus(err error) int {
	if errors.Is(err, forecast.ErrState) || errors.Is(err, forecast.ErrConfiguration) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type issuedDay struct {
	Date          string             `json:"date"`
	DayOfForecast int                `json:"day_of_forecast"`
	IAQI          map[string]float64 `json:"iaqi"`
	AQI           float64            `json:"aqi"`
	Dominant      string             `json:"dominant"`
}

type issuedResponse struct {
	ModelVersion int         `json:"model_version"`
	IssuedAt     time.Time   `json:"issued_at"`
	Days         []issuedDay `json:"days"`
}

// handleIssuedForecast returns the most recently recorded forecast.
func (s *Server) handleIssuedForecast(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.GetLatestIssuedForecast()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(rows) == 0 {
		s.writeError(w, http.StatusNotFound, errors.New("no forecast issued"))
		return
	}

	resp := issuedResponse{ModelVersion: rows[0].ModelVersion, IssuedAt: rows[0].IssuedAt}
	byDay := make(map[int]*issuedDay)
	for _, f := range rows {
		d, ok := byDay[f.DayOfForecast]
		if !ok {
			d = &issuedDay{
				Date:          f.ValidDate.Format(time.DateOnly),
				DayOfForecast: f.DayOfForecast,
				IAQI:          make(map[string]float64),
			}
			byDay[f.DayOfForecast] = d
		}
		d.IAQI[f.Pollutant] = f.Value
	}
	for _, d := range byDay {
		d.AQI, d.Dominant = forecast.AQI(d.IAQI)
		resp.Days = append(resp.Days, *d)
	}
	sort.Slice(resp.Days, func(i, j int) bool { return resp.Days[i].DayOfForecast < resp.Days[j].DayOfForecast })
	s.writeJSON(w, http.StatusOK, resp)
}

type modelView struct {
	Version          int       `json:"version"`
	RunID            string    `json:"run_id"`
	CreatedAt        time.Time `json:"created_at"`
	HistoricalWindow int       `json:"historical_window"`
	PredictionWindow int       `json:"prediction_window"`
	NumPredictions   int       `json:"num_predictions"`
	Pollutants       []string  `json:"pollutants"`
	Columns          []string  `json:"columns"`
	Metric           string    `json:"metric"`
	Score            float64   `json:"score"`
	Deployed         bool      `json:"deployed"`
}

func newModelView(mv models.ModelVersion) modelView {
	return modelView{
		Version:          mv.Version,
		RunID:            mv.RunID,
		CreatedAt:        mv.CreatedAt,
		HistoricalWindow: mv.HistoricalWindow,
		PredictionWindow: mv.PredictionWindow,
		NumPredictions:   mv.NumPredictions,
		Pollutants:       mv.Pollutants,
		Columns:          mv.Columns,
		Metric:           mv.Metric,
		Score:            mv.Score,
		Deployed:         mv.Deployed,
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	versions, err := s.store.ListModelVersions(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]modelView, 0, len(versions))
	for _, mv := range versions {
		views = append(views, newModelView(mv))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// handleModel returns one registry entry with its evaluation report.
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid version %q", r.PathValue("version")))
		return
	}
	mv, err := s.store.GetModelVersion(version)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if mv == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("model version %d not found", version))
		return
	}
	resp := struct {
		modelView
		Report json.RawMessage `json:"report,omitempty"`
	}{modelView: newModelView(*mv)}
	if mv.ReportJSON != "" && json.Valid([]byte(mv.ReportJSON)) {
		resp.Report = json.RawMessage(mv.ReportJSON)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type accuracyRow struct {
	Pollutant     string    `json:"pollutant"`
	DayOfForecast int       `json:"day_of_forecast"`
	WindowDays    int       `json:"window_days"`
	SampleSize    int       `json:"sample_size"`
	MeanBias      float64   `json:"mean_bias"`
	MAE           float64   `json:"mae"`
	RMSE          float64   `json:"rmse"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// handleAccuracy lists rolling verification stats by pollutant and lead day.
func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetVerificationStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	rows := []accuracyRow{}
	for _, byDay := range stats {
		for _, st := range byDay {
			rows = append(rows, accuracyRow(st))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Pollutant != rows[j].Pollutant {
			return rows[i].Pollutant < rows[j].Pollutant
		}
		return rows[i].DayOfForecast < rows[j].DayOfForecast
	})
	s.writeJSON(w, http.StatusOK, rows)
}

type readingView struct {
	StationID    string             `json:"station_id"`
	ObservedAt   time.Time          `json:"observed_at"`
	Source       string             `json:"source"`
	IAQI         map[string]float64 `json:"iaqi"`
	Weather      map[string]float64 `json:"weather,omitempty"`
	AQI          float64            `json:"aqi"`
	Dominant     string             `json:"dominant"`
	QualityFlags []string           `json:"quality_flags,omitempty"`
}

var (
	readingPollutants = []string{"pm25", "pm10", "o3", "no2", "so2", "co"}
	readingWeather    = []string{"t", "h", "p", "w", "dew"}
)

func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	reading, err := s.store.GetLatestReading(s.stationID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if reading == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no readings"))
		return
	}

	view := readingView{
		StationID:  reading.StationID,
		ObservedAt: reading.ObservedAt,
		Source:     reading.Source,
		IAQI:       make(map[string]float64),
	}
	for _, name := range readingPollutants {
		if v, ok := reading.Value(name); ok {
			view.IAQI[name] = v
		}
	}
	for _, name := range readingWeather {
		if v, ok := reading.Value(name); ok {
			if view.Weather == nil {
				view.Weather = make(map[string]float64)
			}
			view.Weather[name] = v
		}
	}
	view.AQI, view.Dominant = forecast.AQI(view.IAQI)
	if reading.QualityFlags != "" {
		if err := json.Unmarshal([]byte(reading.QualityFlags), &view.QualityFlags); err != nil {
			s.log.Warnw("api: decode quality flags", "reading", reading.ID, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, view)
}
