package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lox/aqicast/internal/features"
	"github.com/lox/aqicast/internal/model"
	"github.com/lox/aqicast/internal/models"
	"github.com/lox/aqicast/internal/series"
)

// Predictor runs a registered model against recent history.
type Predictor struct {
	Version    int
	columns    []string
	pollutants []string
	scaler     *features.Scaler
	regressor  *model.Ridge
	opts       Options
}

// LoadPredictor restores the scaler and regressor stored with mv.
func LoadPredictor(mv *models.ModelVersion) (*Predictor, error) {
	if mv == nil {
		return nil, fmt.Errorf("%w: no model version", ErrState)
	}
	sc, err := features.DecodeScaler(mv.Scaler)
	if err != nil {
		return nil, fmt.Errorf("model %d scaler: %w", mv.Version, err)
	}
	reg, err := model.DecodeRidge(mv.Model)
	if err != nil {
		return nil, fmt.Errorf("model %d regressor: %w", mv.Version, err)
	}
	opts := Options{
		Historical:     mv.HistoricalWindow,
		Prediction:     mv.PredictionWindow,
		NumPredictions: mv.NumPredictions,
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("model %d: %w", mv.Version, err)
	}
	if want := opts.Historical * len(mv.Columns); reg.Inputs != want {
		return nil, fmt.Errorf("%w: model %d expects %d inputs, window provides %d",
			ErrConfiguration, mv.Version, reg.Inputs, want)
	}
	return &Predictor{
		Version:    mv.Version,
		columns:    mv.Columns,
		pollutants: mv.Pollutants,
		scaler:     sc,
		regressor:  reg,
		opts:       opts,
	}, nil
}

func (p *Predictor) Options() Options { return p.opts }

// DayForecast is the forecast for one calendar day.
type DayForecast struct {
	Date          time.Time          `json:"date"`
	DayOfForecast int                `json:"day_of_forecast"`
	IAQI          map[string]float64 `json:"iaqi"`
	AQI           float64            `json:"aqi"`
	Dominant      string             `json:"dominant"`
}

type Forecast struct {
	ModelVersion int           `json:"model_version"`
	IssuedAt     time.Time     `json:"issued_at"`
	Days         []DayForecast `json:"days"`
}

// Forecast predicts the days after history's last date. history must carry
// every column the model was trained on.
func (p *Predictor) Forecast(ctx context.Context, history *series.Table) (*Forecast, error) {
	input, err := history.Select(p.columns...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if input.Len() < p.opts.Historical {
		return nil, fmt.Errorf("%w: need %d days of history, have %d", ErrConfiguration, p.opts.Historical, input.Len())
	}
	scaled, err := p.scaler.Transform(input.Tail(p.opts.Historical))
	if err != nil {
		return nil, fmt.Errorf("scale history: %w", err)
	}
	future, err := Future(ctx, scaled, RegressorPredictFunc(p.regressor), p.opts)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	values, err := p.scaler.InverseTransform(future)
	if err != nil {
		return nil, fmt.Errorf("inverse scale: %w", err)
	}

	fc := &Forecast{ModelVersion: p.Version, IssuedAt: time.Now().UTC()}
	for i := range values.Len() {
		day := DayForecast{
			Date:          values.Date(i),
			DayOfForecast: i + 1,
			IAQI:          make(map[string]float64, len(p.pollutants)),
		}
		for _, name := range p.pollutants {
			j, ok := values.ColumnIndex(name)
			if !ok {
				return nil, fmt.Errorf("%w: pollutant %q not among model columns", ErrConfiguration, name)
			}
			v := math.Max(0, values.Value(i, j))
			day.IAQI[name] = math.Round(v*10) / 10
		}
		day.AQI, day.Dominant = AQI(day.IAQI)
		fc.Days = append(fc.Days, day)
	}
	return fc, nil
}

// AQI is the highest individual index and the pollutant that sets it.
func AQI(iaqi map[string]float64) (float64, string) {
	best, dominant := math.Inf(-1), ""
	for name, v := range iaqi {
		if v > best || (v == best && name < dominant) {
			best, dominant = v, name
		}
	}
	if dominant == "" {
		return 0, ""
	}
	return best, dominant
}

// Issued flattens the forecast into per-pollutant rows for the store.
func (f *Forecast) Issued() []models.IssuedForecast {
	var out []models.IssuedForecast
	for _, d := range f.Days {
		for name, v := range d.IAQI {
			out = append(out, models.IssuedForecast{
				ModelVersion:  f.ModelVersion,
				IssuedAt:      f.IssuedAt,
				ValidDate:     d.Date,
				DayOfForecast: d.DayOfForecast,
				Pollutant:     name,
				Value:         v,
			})
		}
	}
	return out
}
