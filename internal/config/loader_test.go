package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/lox/aqicast/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		convey.Convey("When loading with defaults only", func() {
			t.Setenv("AQICAST_CONFIG", "")
			cfg, err := config.Load("")

			convey.Convey("Then the defaults are returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Server.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Training.HistoricalWindow, convey.ShouldEqual, 3)
				convey.So(cfg.Training.PredictionWindow, convey.ShouldEqual, 3)
				convey.So(cfg.Training.NumPredictions, convey.ShouldEqual, 1)
				convey.So(cfg.Training.Metric, convey.ShouldEqual, "willmott")
				convey.So(cfg.Training.Pollutants, convey.ShouldResemble, []string{"pm25", "pm10", "no2", "so2", "co"})
				convey.So(cfg.Schedule.ReadingInterval, convey.ShouldEqual, time.Hour)
			})
		})

		convey.Convey("When loading a YAML file", func() {
			path := filepath.Join(t.TempDir(), "aqicast.yaml")
			yamlContent := `
db:
  path: /tmp/test.db
station:
  id: slovakia/kosice/strorocna
  timezone: Europe/Bratislava
training:
  historical_window: 7
  num_predictions: 2
  pollutants: [pm25]
schedule:
  reading_interval: 30m
`
			convey.So(os.WriteFile(path, []byte(yamlContent), 0o644), convey.ShouldBeNil)

			cfg, err := config.Load(path)

			convey.Convey("Then file values override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.DB.Path, convey.ShouldEqual, "/tmp/test.db")
				convey.So(cfg.Station.ID, convey.ShouldEqual, "slovakia/kosice/strorocna")
				convey.So(cfg.Training.HistoricalWindow, convey.ShouldEqual, 7)
				convey.So(cfg.Training.PredictionWindow, convey.ShouldEqual, 3)
				convey.So(cfg.Training.NumPredictions, convey.ShouldEqual, 2)
				convey.So(cfg.Training.Pollutants, convey.ShouldResemble, []string{"pm25"})
				convey.So(cfg.Schedule.ReadingInterval, convey.ShouldEqual, 30*time.Minute)
			})

			convey.Convey("And env vars override the file", func() {
				t.Setenv("AQICAST_TRAINING__HISTORICAL_WINDOW", "5")
				t.Setenv("AQICAST_STATION__TOKEN", "secret")
				t.Setenv("AQICAST_TRAINING__POLLUTANTS", "pm10,no2")

				cfg, err := config.Load(path)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Training.HistoricalWindow, convey.ShouldEqual, 5)
				convey.So(cfg.Station.Token, convey.ShouldEqual, "secret")
				convey.So(cfg.Training.Pollutants, convey.ShouldResemble, []string{"pm10", "no2"})
			})
		})

		convey.Convey("When the file does not exist", func() {
			_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))

			convey.Convey("Then a load error is returned", func() {
				convey.So(err, convey.ShouldWrap, config.ErrLoadConfig)
			})
		})

		convey.Convey("When a value fails validation", func() {
			t.Setenv("AQICAST_TRAINING__PREDICTION_WINDOW", "0")
			_, err := config.Load("")

			convey.Convey("Then an invalid config error is returned", func() {
				convey.So(err, convey.ShouldWrap, config.ErrInvalidConfig)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := config.New()

		convey.Convey("It is valid", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("An unknown metric is rejected", func() {
			cfg.Training.Metric = "accuracy"
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("Split fractions must leave test data", func() {
			cfg.Training.TrainFraction = 0.9
			cfg.Training.ValFraction = 0.1
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("The headline day must be inside the horizon", func() {
			cfg.Training.HeadlineDay = 4
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("An unknown timezone is rejected", func() {
			cfg.Station.Timezone = "Mars/Olympus"
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})
	})
}
