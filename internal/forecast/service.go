package forecast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/features"
	"github.com/lox/aqicast/internal/metrics"
	"github.com/lox/aqicast/internal/series"
	"github.com/lox/aqicast/internal/store"
)

// historyPadding is how many days beyond the model's window are loaded, so
// gap filling has neighbours to interpolate from.
const historyPadding = 14

// Service serves forecasts from the deployed model, reloading it whenever a
// different version is deployed.
type Service struct {
	store     *store.Store
	stationID string
	assemble  features.AssembleOptions
	now       func() time.Time
	log       *zap.SugaredLogger

	mu        sync.Mutex
	predictor *Predictor
}

func NewService(s *store.Store, stationID string, assemble features.AssembleOptions, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{store: s, stationID: stationID, assemble: assemble, now: time.Now, log: log}
}

// Predictor returns the deployed model, or ErrState when none is deployed.
func (s *Service) Predictor() (*Predictor, error) {
	mv, err := s.store.DeployedModelVersion()
	if err != nil {
		return nil, fmt.Errorf("deployed model: %w", err)
	}
	if mv == nil {
		return nil, fmt.Errorf("%w: no model deployed", ErrState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.predictor != nil && s.predictor.Version == mv.Version {
		return s.predictor, nil
	}
	p, err := LoadPredictor(mv)
	if err != nil {
		return nil, err
	}
	s.log.Infow("forecast: loaded model", "version", mv.Version, "run_id", mv.RunID)
	s.predictor = p
	return p, nil
}

// History assembles the recent daily table the predictor needs.
func (s *Service) History(historical int) (*series.Table, error) {
	end := s.now().AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -(historical + historyPadding + 1))
	readings, err := s.store.GetReadings(s.stationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: no readings since %s", ErrConfiguration, start.Format(time.DateOnly))
	}
	weather, err := s.store.GetDailyWeather(s.stationID, start.AddDate(0, 0, -historyPadding), end)
	if err != nil {
		return nil, fmt.Errorf("load weather: %w", err)
	}
	return features.Assemble(readings, weather, s.assemble)
}

// Forecast predicts from the latest history without recording anything.
func (s *Service) Forecast(ctx context.Context) (*Forecast, error) {
	p, err := s.Predictor()
	if err != nil {
		return nil, err
	}
	history, err := s.History(p.Options().Historical)
	if err != nil {
		return nil, err
	}
	fc, err := p.Forecast(ctx, history)
	if err != nil {
		return nil, err
	}
	metrics.ForecastsServed.Inc()
	return fc, nil
}

// Issue produces a forecast and records it for later verification.
func (s *Service) Issue(ctx context.Context) (*Forecast, error) {
	fc, err := s.Forecast(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertIssuedForecasts(fc.Issued()); err != nil {
		return nil, fmt.Errorf("record forecast: %w", err)
	}
	s.log.Infow("forecast: issued", "version", fc.ModelVersion, "days", len(fc.Days))
	return fc, nil
}
