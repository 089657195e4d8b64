// Package training runs the model pipeline end to end: assemble the daily
// table, split and scale it, fit the regressor on windows, replay the
// recursive forecaster over the test split and score it.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/evaluation"
	"github.com/lox/aqicast/internal/features"
	"github.com/lox/aqicast/internal/forecast"
	"github.com/lox/aqicast/internal/metrics"
	"github.com/lox/aqicast/internal/model"
	"github.com/lox/aqicast/internal/models"
	"github.com/lox/aqicast/internal/series"
	"github.com/lox/aqicast/internal/store"
)

// Options configures one training run.
type Options struct {
	Historical     int
	Prediction     int
	NumPredictions int
	TrainFraction  float64
	ValFraction    float64
	Alpha          float64
	Pollutants     []string
	// Weather lists the weather columns; nil means models.WeatherColumns and
	// an empty slice means none, as in features.Assemble.
	Weather     []string
	FlagColumns []string
	Holidays    features.Holidays
	Metric      string
	HeadlineDay int
	Location    *time.Location
}

func (o Options) forecast() forecast.Options {
	return forecast.Options{Historical: o.Historical, Prediction: o.Prediction, NumPredictions: o.NumPredictions}
}

// Outcome is a fitted model together with its test-split evaluation.
type Outcome struct {
	RunID     string
	Columns   []string
	Scaler    *features.Scaler
	Regressor *model.Ridge
	Result    *evaluation.Result
	Report    *evaluation.Report
	Headline  float64
	Windows   map[string]int
}

// Fit trains and evaluates on an assembled daily table.
func Fit(ctx context.Context, table *series.Table, opts Options, log *zap.SugaredLogger) (*Outcome, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	for _, p := range opts.Pollutants {
		if !table.Has(p) {
			return nil, fmt.Errorf("%w: pollutant %q missing from table", features.ErrConfiguration, p)
		}
	}

	splits, err := features.Split(table, opts.TrainFraction, opts.ValFraction)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	log.Infow("train: split", "train", splits.Train.Len(), "val", splits.Validation.Len(), "test", splits.Test.Len())

	scalerOpts := []features.ScalerOption{}
	if opts.FlagColumns != nil {
		scalerOpts = append(scalerOpts, features.WithFlagColumns(opts.FlagColumns...))
	}
	sc, err := features.Fit(splits.Train, splits.Validation, scalerOpts...)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := splits.Transform(sc)
	if err != nil {
		return nil, fmt.Errorf("scale splits: %w", err)
	}

	samples, err := features.BuildSamples(scaled, opts.Historical, opts.Prediction)
	if err != nil {
		return nil, fmt.Errorf("build windows: %w", err)
	}
	windows := map[string]int{
		"train": len(samples.Train.Windows),
		"val":   len(samples.Validation.Windows),
		"test":  len(samples.Test.Windows),
	}
	for split, n := range windows {
		metrics.WindowsBuilt.WithLabelValues(split).Add(float64(n))
	}
	if windows["train"] == 0 {
		return nil, fmt.Errorf("%w: training split of %d days yields no windows for H=%d P=%d",
			features.ErrConfiguration, splits.Train.Len(), opts.Historical, opts.Prediction)
	}

	reg := model.NewRidge(opts.Alpha)
	if err := reg.Fit(samples.Train.X, samples.Train.Y); err != nil {
		return nil, fmt.Errorf("fit regressor: %w", err)
	}
	log.Infow("train: regressor fitted", "windows", windows["train"], "inputs", reg.Inputs, "outputs", reg.Outputs)

	run, err := forecast.Recursive(ctx, scaled.Test, forecast.RegressorPredictFunc(reg), opts.forecast())
	if err != nil {
		return nil, fmt.Errorf("recursive forecast: %w", err)
	}
	if len(run.Starts) == 0 {
		return nil, fmt.Errorf("%w: test split of %d days is shorter than H+P*N=%d",
			features.ErrConfiguration, scaled.Test.Len(), opts.Historical+opts.forecast().Horizon())
	}

	truth := make([]*series.Table, len(run.Starts))
	pred := make([]*series.Table, len(run.Starts))
	for k := range run.Starts {
		if truth[k], err = sc.InverseTransform(run.Truth[k]); err != nil {
			return nil, fmt.Errorf("inverse truth: %w", err)
		}
		if pred[k], err = sc.InverseTransform(run.Prediction[k]); err != nil {
			return nil, fmt.Errorf("inverse prediction: %w", err)
		}
	}

	result, err := evaluation.Evaluate(truth, pred, opts.Prediction, opts.NumPredictions, opts.Pollutants)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	headline, err := evaluation.Headline(result, opts.Metric, opts.HeadlineDay)
	if err != nil {
		return nil, fmt.Errorf("headline: %w", err)
	}

	return &Outcome{
		RunID:     uuid.NewString(),
		Columns:   table.Columns(),
		Scaler:    sc,
		Regressor: reg,
		Result:    result,
		Report:    evaluation.NewReport(result),
		Headline:  headline,
		Windows:   windows,
	}, nil
}

// ModelVersion packages the outcome for the registry.
func (o *Outcome) ModelVersion(opts Options) (models.ModelVersion, error) {
	scaler, err := o.Scaler.Encode()
	if err != nil {
		return models.ModelVersion{}, err
	}
	reg, err := o.Regressor.Encode()
	if err != nil {
		return models.ModelVersion{}, err
	}
	report, err := json.Marshal(struct {
		Result  *evaluation.Result `json:"result"`
		Windows map[string]int     `json:"windows"`
	}{o.Result, o.Windows})
	if err != nil {
		return models.ModelVersion{}, fmt.Errorf("marshal report: %w", err)
	}
	return models.ModelVersion{
		RunID:            o.RunID,
		HistoricalWindow: opts.Historical,
		PredictionWindow: opts.Prediction,
		NumPredictions:   opts.NumPredictions,
		Columns:          o.Columns,
		Pollutants:       opts.Pollutants,
		Metric:           opts.Metric,
		Score:            o.Headline,
		ReportJSON:       string(report),
		Scaler:           scaler,
		Model:            reg,
	}, nil
}

// Trainer runs the pipeline against stored data and registers the result.
type Trainer struct {
	store     *store.Store
	stationID string
	log       *zap.SugaredLogger
}

func NewTrainer(s *store.Store, stationID string, log *zap.SugaredLogger) *Trainer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Trainer{store: s, stationID: stationID, log: log}
}

// Table assembles the daily feature table from stored readings and weather.
func (t *Trainer) Table(opts Options) (*series.Table, error) {
	readings, err := t.store.GetAllReadings(t.stationID)
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: no readings stored for %s", features.ErrConfiguration, t.stationID)
	}
	var weather []models.DailyWeather
	weatherCols := opts.Weather
	if weatherCols == nil {
		weatherCols = models.WeatherColumns
	}
	if len(weatherCols) > 0 {
		first := readings[0].ObservedAt.AddDate(0, 0, -7)
		last := readings[len(readings)-1].ObservedAt.AddDate(0, 0, 1)
		if weather, err = t.store.GetDailyWeather(t.stationID, first, last); err != nil {
			return nil, fmt.Errorf("load weather: %w", err)
		}
	}
	return features.Assemble(readings, weather, features.AssembleOptions{
		Pollutants: opts.Pollutants,
		Weather:    weatherCols,
		Location:   opts.Location,
		Holidays:   opts.Holidays,
	})
}

// Run trains on everything stored and saves a new model version. When
// deploy is set and the new version beats the deployed one, it is deployed.
func (t *Trainer) Run(ctx context.Context, opts Options, deploy bool) (*Outcome, int, error) {
	outcome, version, err := t.run(ctx, opts, deploy)
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.TrainingRunsTotal.WithLabelValues(status).Inc()
	return outcome, version, err
}

func (t *Trainer) run(ctx context.Context, opts Options, deploy bool) (*Outcome, int, error) {
	table, err := t.Table(opts)
	if err != nil {
		return nil, 0, err
	}
	t.log.Infow("train: assembled table", "days", table.Len(), "columns", table.Width(),
		"from", table.FirstDate().Format(time.DateOnly), "to", table.LastDate().Format(time.DateOnly))

	outcome, err := Fit(ctx, table, opts, t.log)
	if err != nil {
		return nil, 0, err
	}
	t.log.Infof("train: evaluation on test split\n%s", outcome.Report)

	mv, err := outcome.ModelVersion(opts)
	if err != nil {
		return nil, 0, err
	}
	version, err := t.store.SaveModelVersion(mv)
	if err != nil {
		return nil, 0, fmt.Errorf("save model: %w", err)
	}
	metrics.EvaluationHeadline.WithLabelValues(opts.Metric).Set(outcome.Headline)
	t.log.Infow("train: registered model", "version", version, "run_id", outcome.RunID,
		"metric", opts.Metric, "score", outcome.Headline)

	if deploy {
		if err := t.deployIfBetter(version, opts.Metric, outcome.Headline); err != nil {
			return outcome, version, err
		}
	}
	return outcome, version, nil
}

func (t *Trainer) deployIfBetter(version int, metric string, score float64) error {
	current, err := t.store.DeployedModelVersion()
	if err != nil {
		return fmt.Errorf("deployed model: %w", err)
	}
	if current != nil && current.Metric == metric {
		better := score > current.Score
		if !evaluation.HigherIsBetter(metric) {
			better = score < current.Score
		}
		if !better {
			t.log.Infow("train: keeping deployed model", "deployed", current.Version, "deployed_score", current.Score, "score", score)
			return nil
		}
	}
	if err := t.store.Deploy(version); err != nil {
		return fmt.Errorf("deploy %d: %w", version, err)
	}
	t.log.Infow("train: deployed model", "version", version)
	return nil
}
