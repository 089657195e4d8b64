package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/aqicast/internal/config"
	"github.com/lox/aqicast/internal/features"
	"github.com/lox/aqicast/internal/forecast"
	"github.com/lox/aqicast/internal/httputil"
	"github.com/lox/aqicast/internal/ingest"
	"github.com/lox/aqicast/internal/logging"
	"github.com/lox/aqicast/internal/models"
	"github.com/lox/aqicast/internal/store"
	"github.com/lox/aqicast/internal/training"
)

type Globals struct {
	Config  string `help:"YAML config file (defaults to $AQICAST_CONFIG)." type:"path" short:"c"`
	EnvFile string `help:"Dotenv file loaded before the config." default:".env" name:"env-file"`
}

type CLI struct {
	Globals

	Serve         ServeCmd         `cmd:"" help:"Run the HTTP API with the ingest scheduler."`
	Fetch         FetchCmd         `cmd:"" help:"Poll the station feed once."`
	ImportArchive ImportArchiveCmd `cmd:"" name:"import-archive" help:"Import historical daily IAQI from a CSV file or ftp:// URL."`
	Train         TrainCmd         `cmd:"" help:"Train, evaluate and register a model on stored data."`
	Deploy        DeployCmd        `cmd:"" help:"Deploy a registered model version."`
	Models        ModelsCmd        `cmd:"" help:"List registered model versions."`
	Predict       PredictCmd       `cmd:"" help:"Forecast the coming days with the deployed model."`
	Daily         DailyCmd         `cmd:"" help:"Run the daily jobs once (weather, verification, issue, cleanup)."`
	Migrate       MigrateCmd       `cmd:"" help:"Apply database migrations."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("aqicast"),
		kong.Description("Daily air quality index forecasting for a WAQI station."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg   *config.Config
	loc   *time.Location
	log   *zap.SugaredLogger
	db    *sql.DB
	store *store.Store
}

func (g *Globals) open() (*app, error) {
	if err := godotenv.Load(g.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", g.EnvFile, err)
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	log := logger.Sugar()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.DB.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	st := store.New(db, loc, log)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := st.UpsertStation(station(cfg)); err != nil {
		db.Close()
		return nil, fmt.Errorf("upsert station: %w", err)
	}
	return &app{cfg: cfg, loc: loc, log: log, db: db, store: st}, nil
}

func (a *app) Close() {
	_ = a.log.Sync()
	a.db.Close()
}

func station(cfg *config.Config) models.Station {
	return models.Station{
		StationID: cfg.Station.ID,
		Name:      cfg.Station.Name,
		Latitude:  cfg.Station.Latitude,
		Longitude: cfg.Station.Longitude,
		Elevation: cfg.Station.Elevation,
		Timezone:  cfg.Station.Timezone,
	}
}

func (a *app) ingester() *ingest.Ingester {
	client := httputil.NewClient()
	feed := ingest.NewFeedClient(a.cfg.Station.FeedURL, a.cfg.Station.Token, client, a.log)
	weather := ingest.NewWeatherClient(a.cfg.Weather.URL, client, a.log)
	return ingest.NewIngester(a.store, feed, weather, station(a.cfg), a.log)
}

func (a *app) holidays() features.Holidays {
	if a.cfg.Training.Calendar {
		return features.SlovakHolidays
	}
	return nil
}

func (a *app) trainingOptions() training.Options {
	t := a.cfg.Training
	return training.Options{
		Historical:     t.HistoricalWindow,
		Prediction:     t.PredictionWindow,
		NumPredictions: t.NumPredictions,
		TrainFraction:  t.TrainFraction,
		ValFraction:    t.ValFraction,
		Alpha:          t.Alpha,
		Pollutants:     t.Pollutants,
		Weather:        t.WeatherColumns,
		FlagColumns:    t.FlagColumns,
		Holidays:       a.holidays(),
		Metric:         t.Metric,
		HeadlineDay:    t.HeadlineDay,
		Location:       a.loc,
	}
}

func (a *app) service() *forecast.Service {
	return forecast.NewService(a.store, a.cfg.Station.ID, features.AssembleOptions{
		Pollutants: a.cfg.Training.Pollutants,
		Weather:    a.cfg.Training.WeatherColumns,
		Location:   a.loc,
		Holidays:   a.holidays(),
	}, a.log)
}

func (a *app) dailyJobs(issuer ingest.Issuer) (*ingest.DailyJobs, error) {
	since, err := a.cfg.WeatherSince()
	if err != nil {
		return nil, err
	}
	verifier := forecast.NewVerifier(a.store, a.cfg.Station.ID, a.cfg.Training.Pollutants, a.log)
	jobs := ingest.NewDailyJobs(a.store, a.ingester(), verifier, a.log)
	jobs.SetWeatherSince(since)
	jobs.SetRetention(a.cfg.Schedule.StatsWindowDays, a.cfg.Schedule.PayloadRetentionDays)
	if issuer != nil {
		jobs.SetIssuer(issuer)
	}
	return jobs, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
