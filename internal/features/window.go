package features

import (
	"fmt"
	"time"

	"github.com/lox/aqicast/internal/series"
)

// Window pairs Historical consecutive rows with the Prediction rows that
// immediately follow them.
type Window struct {
	Input  *series.Table
	Target *series.Table
}

func checkSizes(historical, prediction int) error {
	if historical <= 0 || prediction <= 0 {
		return fmt.Errorf("%w: window sizes must be positive (historical=%d, prediction=%d)",
			ErrConfiguration, historical, prediction)
	}
	return nil
}

// BuildWindows slices t into every (input, target) pair that fits inside it,
// in chronological order. A table shorter than historical+prediction rows
// yields no windows.
func BuildWindows(t *series.Table, historical, prediction int) ([]Window, error) {
	if err := checkSizes(historical, prediction); err != nil {
		return nil, err
	}
	n := t.Len() - historical - prediction + 1
	if n <= 0 {
		return nil, nil
	}
	windows := make([]Window, n)
	for i := range n {
		windows[i] = Window{
			Input:  t.Slice(i, i+historical),
			Target: t.Slice(i+historical, i+historical+prediction),
		}
	}
	return windows, nil
}

// Flatten lays out t row after row: all columns of the first day, then all
// columns of the second day, and so on.
func Flatten(t *series.Table) []float64 {
	out := make([]float64, 0, t.Len()*t.Width())
	for i := range t.Len() {
		for j := range t.Width() {
			out = append(out, t.Value(i, j))
		}
	}
	return out
}

// Unflatten reverses Flatten for the given dates and columns.
func Unflatten(vec []float64, dates []time.Time, columns []string) (*series.Table, error) {
	if len(vec) != len(dates)*len(columns) {
		return nil, fmt.Errorf("%w: vector of length %d cannot hold %d days of %d columns",
			ErrConfiguration, len(vec), len(dates), len(columns))
	}
	rows := make([][]float64, len(dates))
	for i := range rows {
		rows[i] = vec[i*len(columns) : (i+1)*len(columns)]
	}
	return series.New(dates, columns, rows)
}

// FlattenWindows returns one feature row and one target row per window.
func FlattenWindows(windows []Window) (x, y [][]float64) {
	x = make([][]float64, len(windows))
	y = make([][]float64, len(windows))
	for i, w := range windows {
		x[i] = Flatten(w.Input)
		y[i] = Flatten(w.Target)
	}
	return x, y
}

// DatesAfter returns the n calendar days following last.
func DatesAfter(last time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = series.Day(last).AddDate(0, 0, i+1)
	}
	return out
}

// Samples are the flattened windows of one split.
type Samples struct {
	Windows []Window
	X, Y    [][]float64
}

// SplitSamples holds samples built independently for each split.
type SplitSamples struct {
	Train, Validation, Test Samples
}

// BuildSamples windows and flattens each split on its own, so no window
// spans a split boundary.
func BuildSamples(s Splits, historical, prediction int) (SplitSamples, error) {
	var out SplitSamples
	for _, p := range []struct {
		table *series.Table
		dst   *Samples
	}{
		{s.Train, &out.Train},
		{s.Validation, &out.Validation},
		{s.Test, &out.Test},
	} {
		w, err := BuildWindows(p.table, historical, prediction)
		if err != nil {
			return SplitSamples{}, err
		}
		x, y := FlattenWindows(w)
		*p.dst = Samples{Windows: w, X: x, Y: y}
	}
	return out, nil
}
