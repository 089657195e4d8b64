package forecast

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/evaluation"
	"github.com/lox/aqicast/internal/metrics"
	"github.com/lox/aqicast/internal/models"
	"github.com/lox/aqicast/internal/store"
)

// Verifier scores issued forecasts against observed daily means.
type Verifier struct {
	store      *store.Store
	stationID  string
	pollutants []string
	log        *zap.SugaredLogger
}

func NewVerifier(s *store.Store, stationID string, pollutants []string, log *zap.SugaredLogger) *Verifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Verifier{store: s, stationID: stationID, pollutants: pollutants, log: log}
}

// Verify records a verification for every issued forecast valid on or
// before through whose day has observations. It returns how many were
// verified.
func (v *Verifier) Verify(through time.Time) (int, error) {
	pending, err := v.store.GetUnverifiedForecasts(through)
	if err != nil {
		return 0, fmt.Errorf("unverified forecasts: %w", err)
	}

	actuals := make(map[string]map[string]float64)
	verified := 0
	for _, f := range pending {
		key := f.ValidDate.Format(time.DateOnly)
		means, ok := actuals[key]
		if !ok {
			if means, err = v.store.GetDailyMean(v.stationID, f.ValidDate, v.pollutants); err != nil {
				return verified, fmt.Errorf("daily mean %s: %w", key, err)
			}
			actuals[key] = means
		}
		actual, ok := means[f.Pollutant]
		if !ok {
			continue
		}
		err := v.store.InsertForecastVerification(models.ForecastVerification{
			ForecastID:    f.ID,
			ValidDate:     f.ValidDate,
			DayOfForecast: f.DayOfForecast,
			Pollutant:     f.Pollutant,
			Forecast:      f.Value,
			Actual:        actual,
			Bias:          f.Value - actual,
		})
		if err != nil {
			return verified, fmt.Errorf("insert verification: %w", err)
		}
		verified++
	}
	metrics.ForecastsVerified.Add(float64(verified))
	v.log.Infow("verify: completed", "pending", len(pending), "verified", verified)
	return verified, nil
}

// ComputeStats aggregates verifications from the last windowDays into
// per-pollutant, per-lead-day bias and error statistics.
func (v *Verifier) ComputeStats(windowDays int) error {
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, err := v.store.GetVerifications(since)
	if err != nil {
		return err
	}

	type key struct {
		pollutant string
		day       int
	}
	forecasts := make(map[key][]float64)
	actuals := make(map[key][]float64)
	for _, r := range rows {
		k := key{r.Pollutant, r.DayOfForecast}
		forecasts[k] = append(forecasts[k], r.Forecast)
		actuals[k] = append(actuals[k], r.Actual)
	}

	now := time.Now().UTC()
	for k, fc := range forecasts {
		obs := actuals[k]
		// Bias is forecast minus observation, the reverse of MBE.
		bias, err := evaluation.Compute(evaluation.MBE, fc, obs)
		if err != nil {
			return err
		}
		mae, err := evaluation.Compute(evaluation.MAE, obs, fc)
		if err != nil {
			return err
		}
		rmse, err := evaluation.Compute(evaluation.RMSE, obs, fc)
		if err != nil {
			return err
		}
		stats := models.VerificationStats{
			Pollutant:     k.pollutant,
			DayOfForecast: k.day,
			WindowDays:    windowDays,
			SampleSize:    len(fc),
			MeanBias:      bias,
			MAE:           mae,
			RMSE:          rmse,
			UpdatedAt:     now,
		}
		if err := v.store.UpsertVerificationStats(stats); err != nil {
			return err
		}
	}
	return nil
}
