package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/metrics"
	"github.com/lox/aqicast/internal/models"
	"github.com/lox/aqicast/internal/store"
)

// Ingester moves upstream data for one station into the store, auditing
// every fetch as an ingest run with its raw payload.
type Ingester struct {
	store   *store.Store
	feed    *FeedClient
	weather *WeatherClient
	station models.Station
	log     *zap.SugaredLogger
}

func NewIngester(s *store.Store, feed *FeedClient, weather *WeatherClient, station models.Station, log *zap.SugaredLogger) *Ingester {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ingester{store: s, feed: feed, weather: weather, station: station, log: log.With("station", station.StationID)}
}

func (in *Ingester) Station() models.Station { return in.station }

// IngestReadings fetches the current feed reading and stores it. It returns
// the number of new rows.
func (in *Ingester) IngestReadings(ctx context.Context) (int, error) {
	if in.feed == nil {
		return 0, nil
	}
	endpoint := "feed/" + in.station.StationID
	run, err := in.store.StartIngestRun(SourceWAQI, endpoint, in.station.StationID)
	if err != nil {
		in.log.Warnw("start ingest run", "error", err)
	}
	defer in.complete(run)

	reading, raw, result, err := in.feed.FetchCurrent(ctx, in.station.StationID)
	in.record(run, result)
	in.keepPayload(run, SourceWAQI, endpoint, raw)
	if err != nil {
		run.Fail(err)
		return 0, fmt.Errorf("fetch feed: %w", err)
	}

	inserted, err := in.store.InsertReading(*reading)
	if err != nil {
		run.Fail(err)
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	stored := 0
	if inserted {
		stored = 1
		metrics.ReadingsIngested.WithLabelValues(SourceWAQI).Inc()
	}
	run.Succeed(1, stored)
	in.log.Infow("ingested feed reading", "observed_at", reading.ObservedAt, "new", inserted, "flags", reading.QualityFlags)
	return stored, nil
}

// IngestWeather fetches daily weather for [start, end] and upserts it.
func (in *Ingester) IngestWeather(ctx context.Context, start, end time.Time) (int, error) {
	if in.weather == nil {
		return 0, nil
	}
	if end.Before(start) {
		return 0, nil
	}
	endpoint := fmt.Sprintf("archive/%s..%s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	run, err := in.store.StartIngestRun(SourceOpenMeteo, endpoint, in.station.StationID)
	if err != nil {
		in.log.Warnw("start ingest run", "error", err)
	}
	defer in.complete(run)

	days, raw, result, err := in.weather.FetchDaily(ctx, in.station.Latitude, in.station.Longitude, start, end)
	in.record(run, result)
	in.keepPayload(run, SourceOpenMeteo, endpoint, raw)
	if err != nil {
		run.Fail(err)
		return 0, fmt.Errorf("fetch weather: %w", err)
	}
	if err := in.store.UpsertDailyWeather(in.station.StationID, days); err != nil {
		run.Fail(err)
		return 0, fmt.Errorf("store weather: %w", err)
	}
	run.Succeed(len(days), len(days))
	metrics.WeatherDaysIngested.Add(float64(len(days)))
	in.log.Infow("ingested daily weather", "days", len(days), "start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))
	return len(days), nil
}

// CatchUpWeather fetches weather from the day after the latest stored date
// (or from since, when nothing is stored) through yesterday.
func (in *Ingester) CatchUpWeather(ctx context.Context, since, now time.Time) (int, error) {
	latest, err := in.store.LatestWeatherDate(in.station.StationID)
	if err != nil {
		return 0, fmt.Errorf("latest weather date: %w", err)
	}
	start := since
	if !latest.IsZero() {
		start = latest.AddDate(0, 0, 1)
	}
	local := now.In(in.store.Location())
	end := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return in.IngestWeather(ctx, start, end)
}

// ImportArchive loads a historical export and stores its daily readings.
func (in *Ingester) ImportArchive(location string) (int, error) {
	run, err := in.store.StartIngestRun(SourceArchiveImport, location, in.station.StationID)
	if err != nil {
		in.log.Warnw("start ingest run", "error", err)
	}
	defer in.complete(run)

	imp, err := LoadArchive(location, in.station.StationID, in.store.Location())
	if err != nil {
		run.Fail(err)
		return 0, fmt.Errorf("load archive: %w", err)
	}
	if run != nil {
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(len(imp.Raw)), Valid: true}
		run.ParseErrors = sql.NullInt64{Int64: int64(imp.ParseErrors), Valid: imp.ParseErrors > 0}
	}
	in.keepPayload(run, SourceArchiveImport, location, imp.Raw)

	stored, err := in.store.InsertReadings(imp.Readings)
	if err != nil {
		run.Fail(err)
		return 0, fmt.Errorf("store archive: %w", err)
	}
	run.Succeed(len(imp.Readings), stored)
	metrics.ReadingsIngested.WithLabelValues(SourceArchiveImport).Add(float64(stored))
	in.log.Infow("imported archive", "location", location, "parsed", len(imp.Readings), "stored", stored, "parse_errors", imp.ParseErrors)
	return stored, nil
}

func (in *Ingester) record(run *store.IngestRun, result *FetchResult) {
	if run == nil || result == nil {
		return
	}
	run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
	run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
	run.ParseErrors = sql.NullInt64{Int64: int64(result.ParseErrors), Valid: result.ParseErrors > 0}
}

func (in *Ingester) keepPayload(run *store.IngestRun, source, endpoint string, raw []byte) {
	if len(raw) == 0 {
		return
	}
	if _, err := in.store.StoreRawPayload(run, source, endpoint, in.station.StationID, raw); err != nil {
		in.log.Warnw("store raw payload", "source", source, "error", err)
	}
}

func (in *Ingester) complete(run *store.IngestRun) {
	if err := in.store.CompleteIngestRun(run); err != nil {
		in.log.Warnw("complete ingest run", "error", err)
	}
}
