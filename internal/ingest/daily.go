package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/forecast"
	"github.com/lox/aqicast/internal/store"
)

const (
	DefaultStatsWindowDays  = 30
	DefaultPayloadRetention = 90
)

// Issuer produces and records a forecast.
type Issuer interface {
	Issue(ctx context.Context) (*forecast.Forecast, error)
}

// DailyJobs is the once-a-day maintenance pass: weather catch-up, forecast
// verification and stats, issuing the next forecast, raw payload cleanup.
type DailyJobs struct {
	store            *store.Store
	ingester         *Ingester
	verifier         *forecast.Verifier
	issuer           Issuer
	weatherSince     time.Time
	statsWindowDays  int
	payloadRetention int
	log              *zap.SugaredLogger
}

func NewDailyJobs(s *store.Store, ingester *Ingester, verifier *forecast.Verifier, log *zap.SugaredLogger) *DailyJobs {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DailyJobs{
		store:            s,
		ingester:         ingester,
		verifier:         verifier,
		statsWindowDays:  DefaultStatsWindowDays,
		payloadRetention: DefaultPayloadRetention,
		log:              log,
	}
}

// SetIssuer enables issuing a forecast at the end of each daily run.
func (d *DailyJobs) SetIssuer(issuer Issuer) { d.issuer = issuer }

// SetWeatherSince sets the first day fetched when no weather is stored yet.
func (d *DailyJobs) SetWeatherSince(t time.Time) { d.weatherSince = t }

func (d *DailyJobs) SetRetention(statsWindowDays, payloadDays int) {
	if statsWindowDays > 0 {
		d.statsWindowDays = statsWindowDays
	}
	if payloadDays > 0 {
		d.payloadRetention = payloadDays
	}
}

// RunAll runs every job for forDate. Failures are logged and do not stop
// later jobs.
func (d *DailyJobs) RunAll(ctx context.Context, forDate time.Time) error {
	d.log.Infow("daily: running jobs", "date", forDate.Format(time.DateOnly))

	if d.ingester != nil && !d.weatherSince.IsZero() {
		if _, err := d.ingester.CatchUpWeather(ctx, d.weatherSince, forDate.AddDate(0, 0, 1)); err != nil {
			d.log.Warnw("daily: weather catch-up", "error", err)
		}
	}

	if d.verifier != nil {
		if _, err := d.verifier.Verify(forDate); err != nil {
			d.log.Warnw("daily: verification", "error", err)
		}
		if err := d.verifier.ComputeStats(d.statsWindowDays); err != nil {
			d.log.Warnw("daily: verification stats", "error", err)
		}
	}

	if d.issuer != nil {
		if fc, err := d.issuer.Issue(ctx); err != nil {
			d.log.Warnw("daily: issue forecast", "error", err)
		} else {
			d.log.Infow("daily: issued forecast", "version", fc.ModelVersion, "days", len(fc.Days))
		}
	}

	if n, err := d.store.CleanupOldRawPayloads(d.payloadRetention); err != nil {
		d.log.Warnw("daily: payload cleanup", "error", err)
	} else if n > 0 {
		d.log.Infow("daily: removed old raw payloads", "count", n)
	}
	return ctx.Err()
}
