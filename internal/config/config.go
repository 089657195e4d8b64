// Package config defines aqicast configuration and how it is layered from
// defaults, an optional YAML file and AQICAST_ environment variables.
package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/lox/aqicast/internal/evaluation"
	"github.com/lox/aqicast/internal/models"
)

type Config struct {
	Log      LogConfig      `koanf:"log"`
	DB       DBConfig       `koanf:"db"`
	Station  StationConfig  `koanf:"station"`
	Weather  WeatherConfig  `koanf:"weather"`
	Archive  ArchiveConfig  `koanf:"archive"`
	Training TrainingConfig `koanf:"training"`
	Server   ServerConfig   `koanf:"server"`
	Schedule ScheduleConfig `koanf:"schedule"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

type DBConfig struct {
	Path string `koanf:"path"`
}

type StationConfig struct {
	// ID is the WAQI feed path, e.g. "slovakia/poprad/zeleznicna".
	ID        string  `koanf:"id"`
	Name      string  `koanf:"name"`
	FeedURL   string  `koanf:"feed_url"`
	Token     string  `koanf:"token"`
	Latitude  float64 `koanf:"latitude"`
	Longitude float64 `koanf:"longitude"`
	Elevation float64 `koanf:"elevation"`
	Timezone  string  `koanf:"timezone"`
}

type WeatherConfig struct {
	URL string `koanf:"url"`
	// Since is the first date fetched when no weather is stored (YYYY-MM-DD).
	Since string `koanf:"since"`
}

type ArchiveConfig struct {
	// Location is a local CSV path or an ftp:// URL.
	Location string `koanf:"location"`
}

type TrainingConfig struct {
	HistoricalWindow int      `koanf:"historical_window"`
	PredictionWindow int      `koanf:"prediction_window"`
	NumPredictions   int      `koanf:"num_predictions"`
	TrainFraction    float64  `koanf:"train_fraction"`
	ValFraction      float64  `koanf:"val_fraction"`
	Alpha            float64  `koanf:"alpha"`
	Pollutants       []string `koanf:"pollutants"`
	WeatherColumns   []string `koanf:"weather_columns"`
	FlagColumns      []string `koanf:"flag_columns"`
	Calendar         bool     `koanf:"calendar"`
	// Metric and HeadlineDay select the model-selection score; day 0 means
	// the last forecast day.
	Metric      string `koanf:"metric"`
	HeadlineDay int    `koanf:"headline_day"`
	AutoDeploy  bool   `koanf:"auto_deploy"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type ScheduleConfig struct {
	ReadingInterval      time.Duration `koanf:"reading_interval"`
	DailyAt              string        `koanf:"daily_at"`
	StatsWindowDays      int           `koanf:"stats_window_days"`
	PayloadRetentionDays int           `koanf:"payload_retention_days"`
}

// New returns the default configuration.
func New() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		DB:  DBConfig{Path: "data/aqicast.db"},
		Station: StationConfig{
			ID:        "slovakia/poprad/zeleznicna",
			Name:      "Poprad",
			FeedURL:   "https://api.waqi.info",
			Latitude:  49.07,
			Longitude: 20.24,
			Elevation: 718,
			Timezone:  "Europe/Bratislava",
		},
		Weather: WeatherConfig{
			URL:   "https://archive-api.open-meteo.com/v1/archive",
			Since: "2014-01-01",
		},
		Training: TrainingConfig{
			HistoricalWindow: 3,
			PredictionWindow: 3,
			NumPredictions:   1,
			TrainFraction:    0.8,
			ValFraction:      0.1,
			Alpha:            1,
			Pollutants:       append([]string(nil), models.Pollutants...),
			WeatherColumns:   append([]string(nil), models.WeatherColumns...),
			FlagColumns:      []string{"is_leap_year", "is_feb29", "is_working_day"},
			Calendar:         true,
			Metric:           evaluation.Willmott,
			HeadlineDay:      0,
			AutoDeploy:       true,
		},
		Server: ServerConfig{Addr: ":8080"},
		Schedule: ScheduleConfig{
			ReadingInterval:      time.Hour,
			DailyAt:              "06:30",
			StatsWindowDays:      30,
			PayloadRetentionDays: 90,
		},
	}
}

// Location returns the station's time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Station.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Station.Timezone, err)
	}
	return loc, nil
}

// WeatherSince parses Weather.Since.
func (c *Config) WeatherSince() (time.Time, error) {
	if c.Weather.Since == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, c.Weather.Since)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: weather.since: %v", ErrInvalidConfig, err)
	}
	return t, nil
}

func (c *Config) Validate() error {
	t := c.Training
	switch {
	case c.DB.Path == "":
		return fmt.Errorf("%w: db.path must not be empty", ErrInvalidConfig)
	case c.Station.ID == "":
		return fmt.Errorf("%w: station.id must not be empty", ErrInvalidConfig)
	case t.HistoricalWindow < 1 || t.PredictionWindow < 1 || t.NumPredictions < 1:
		return fmt.Errorf("%w: training windows must be positive (H=%d P=%d N=%d)",
			ErrInvalidConfig, t.HistoricalWindow, t.PredictionWindow, t.NumPredictions)
	case t.TrainFraction <= 0 || t.ValFraction < 0 || t.TrainFraction+t.ValFraction >= 1:
		return fmt.Errorf("%w: split fractions %.2f/%.2f leave no test data", ErrInvalidConfig, t.TrainFraction, t.ValFraction)
	case t.Alpha < 0:
		return fmt.Errorf("%w: training.alpha must not be negative", ErrInvalidConfig)
	case len(t.Pollutants) == 0:
		return fmt.Errorf("%w: training.pollutants must not be empty", ErrInvalidConfig)
	case t.HeadlineDay < 0 || t.HeadlineDay > t.PredictionWindow*t.NumPredictions:
		return fmt.Errorf("%w: training.headline_day %d outside 0..%d", ErrInvalidConfig, t.HeadlineDay, t.PredictionWindow*t.NumPredictions)
	case c.Schedule.ReadingInterval <= 0:
		return fmt.Errorf("%w: schedule.reading_interval must be positive", ErrInvalidConfig)
	}
	if _, ok := evaluation.Registry[t.Metric]; !ok {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, t.Metric)
	}
	if _, err := time.Parse("15:04", c.Schedule.DailyAt); err != nil {
		return fmt.Errorf("%w: schedule.daily_at %q: %v", ErrInvalidConfig, c.Schedule.DailyAt, err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	_, err := c.WeatherSince()
	return err
}
