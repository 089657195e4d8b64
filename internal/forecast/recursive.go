package forecast

import (
	"context"
	"fmt"

	"github.com/lox/aqicast/internal/features"
	"github.com/lox/aqicast/internal/series"
)

var (
	ErrConfiguration = features.ErrConfiguration
	ErrState         = features.ErrState
)

// PredictFunc forecasts the rows that follow input. The returned table must
// carry input's columns; its dates are replaced by the calendar days after
// input's last date.
type PredictFunc func(ctx context.Context, input *series.Table) (*series.Table, error)

// Regressor is a fitted multi-output model over flattened windows.
type Regressor interface {
	Predict(x [][]float64) ([][]float64, error)
}

// RegressorPredictFunc adapts a regressor trained on flattened windows.
func RegressorPredictFunc(r Regressor) PredictFunc {
	return func(ctx context.Context, input *series.Table) (*series.Table, error) {
		if input.Len() == 0 {
			return nil, fmt.Errorf("%w: empty input window", ErrConfiguration)
		}
		y, err := r.Predict([][]float64{features.Flatten(input)})
		if err != nil {
			return nil, fmt.Errorf("regressor predict: %w", err)
		}
		if len(y) != 1 || len(y[0])%input.Width() != 0 {
			return nil, fmt.Errorf("%w: regressor output does not fit %d columns", ErrConfiguration, input.Width())
		}
		days := len(y[0]) / input.Width()
		return features.Unflatten(y[0], features.DatesAfter(input.LastDate(), days), input.Columns())
	}
}

// Options sizes a recursive run.
type Options struct {
	Historical     int
	Prediction     int
	NumPredictions int
	// Trace, if set, observes every prediction step.
	Trace func(Step)
}

func (o Options) validate() error {
	if o.Historical <= 0 || o.Prediction <= 0 || o.NumPredictions <= 0 {
		return fmt.Errorf("%w: historical=%d prediction=%d num_predictions=%d must be positive",
			ErrConfiguration, o.Historical, o.Prediction, o.NumPredictions)
	}
	return nil
}

// Horizon is the number of days covered by one recursive forecast.
func (o Options) Horizon() int { return o.Prediction * o.NumPredictions }

// Step is one application of the predictor inside a recursive run.
type Step struct {
	Start      int
	Iteration  int
	Input      *series.Table
	Prediction *series.Table
}

// Run is the output of Recursive: for every start position, the observed
// rows and the forecast rows over the same Horizon days.
type Run struct {
	Starts     []int
	Truth      []*series.Table
	Prediction []*series.Table
}

// Recursive replays the forecaster over t. For every start i with
// i+Historical+Horizon <= t.Len() it seeds a window with rows [i, i+Historical)
// and predicts NumPredictions times, each time feeding back the latest
// Historical rows of the window extended by its own forecast.
func Recursive(ctx context.Context, t *series.Table, predict PredictFunc, opts Options) (*Run, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	run := &Run{}
	last := t.Len() - opts.Historical - opts.Horizon()
	for i := 0; i <= last; i++ {
		truth, pred, err := forecastFrom(ctx, t, i, predict, opts)
		if err != nil {
			return nil, fmt.Errorf("start %d: %w", i, err)
		}
		run.Starts = append(run.Starts, i)
		run.Truth = append(run.Truth, truth)
		run.Prediction = append(run.Prediction, pred)
	}
	return run, nil
}

func forecastFrom(ctx context.Context, t *series.Table, start int, predict PredictFunc, opts Options) (truth, pred *series.Table, err error) {
	current := t.Slice(start, start+opts.Historical)
	preds, err := rollForward(ctx, current, predict, opts, start)
	if err != nil {
		return nil, nil, err
	}
	truthRows := make([][]float64, 0, preds.Len())
	for _, d := range preds.Dates() {
		k, ok := t.Lookup(d)
		if !ok {
			return nil, nil, fmt.Errorf("%w: no observation for %s", ErrConfiguration, d.Format("2006-01-02"))
		}
		truthRows = append(truthRows, t.Row(k))
	}
	truth, err = series.New(preds.Dates(), t.Columns(), truthRows)
	if err != nil {
		return nil, nil, err
	}
	return truth, preds, nil
}

// rollForward runs NumPredictions steps from current and returns the
// concatenated predictions.
func rollForward(ctx context.Context, current *series.Table, predict PredictFunc, opts Options, start int) (*series.Table, error) {
	out := series.Empty(current.Columns())
	for n := range opts.NumPredictions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := predict(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", n+1, err)
		}
		if raw.Len() != opts.Prediction {
			return nil, fmt.Errorf("%w: predictor returned %d rows, want %d", ErrConfiguration, raw.Len(), opts.Prediction)
		}
		if !series.SameColumns(raw, current) {
			return nil, fmt.Errorf("%w: predictor columns %v, want %v", ErrConfiguration, raw.Columns(), current.Columns())
		}
		step, err := raw.WithDates(features.DatesAfter(current.LastDate(), opts.Prediction))
		if err != nil {
			return nil, err
		}
		if opts.Trace != nil {
			opts.Trace(Step{Start: start, Iteration: n, Input: current, Prediction: step})
		}
		if out, err = out.Concat(step); err != nil {
			return nil, err
		}
		extended, err := current.Concat(step)
		if err != nil {
			return nil, err
		}
		current = extended.Tail(opts.Historical)
	}
	return out, nil
}

// Future forecasts the Horizon days after history's last date from its final
// Historical rows.
func Future(ctx context.Context, history *series.Table, predict PredictFunc, opts Options) (*series.Table, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if history.Len() < opts.Historical {
		return nil, fmt.Errorf("%w: need %d days of history, have %d", ErrConfiguration, opts.Historical, history.Len())
	}
	return rollForward(ctx, history.Tail(opts.Historical), predict, opts, history.Len()-opts.Historical)
}
