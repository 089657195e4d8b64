// Package evaluation scores forecasts against observations: a registry of
// regression and air-quality metrics, per-day aggregation across forecast
// windows, and a text report.
package evaluation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/aqicast/internal/features"
)

// ErrConfiguration is returned for mismatched or empty inputs.
var ErrConfiguration = features.ErrConfiguration

const epsilon = 1e-10

// MetricFunc scores predictions against observed values of equal length.
type MetricFunc func(yTrue, yPred []float64) (float64, error)

// Metric names as they appear in reports and the model registry.
const (
	RMSE     = "rmse"
	NRMSE    = "nrmse"
	MAE      = "mae"
	R2       = "r2"
	Pearson  = "pearson"
	Spearman = "spearman"
	Willmott = "willmott"
	MBE      = "mbe"
	MABE     = "mabe"
	NMBE     = "nmbe"
	FB       = "fb"
	FGE      = "fge"
	Factor2  = "factor2"
)

// Registry maps metric names to their implementations.
var Registry = map[string]MetricFunc{
	RMSE:     rmse,
	NRMSE:    nrmse,
	MAE:      mae,
	R2:       r2,
	Pearson:  pearson,
	Spearman: spearman,
	Willmott: willmott,
	MBE:      mbe,
	MABE:     mabe,
	NMBE:     nmbe,
	FB:       fb,
	FGE:      fge,
	Factor2:  factor2,
}

// Names returns the registered metric names in sorted order.
func Names() []string { return sortedKeys(Registry) }

// Compute applies the named metric.
func Compute(name string, yTrue, yPred []float64) (float64, error) {
	fn, ok := Registry[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown metric %q", ErrConfiguration, name)
	}
	return fn(yTrue, yPred)
}

func check(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("%w: %d observed values, %d predicted", ErrConfiguration, len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return fmt.Errorf("%w: no values to score", ErrConfiguration)
	}
	return nil
}

func safeDiv(num, den float64) float64 {
	if math.Abs(den) < epsilon {
		if den < 0 {
			den = -epsilon
		} else {
			den = epsilon
		}
	}
	return num / den
}

func mse(yTrue, yPred []float64) float64 {
	var sum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return sum / float64(len(yTrue))
}

func rmse(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	return math.Sqrt(mse(yTrue, yPred)), nil
}

// nrmse normalizes RMSE by the observed range. A constant series is scored
// against a unit range.
func nrmse(yTrue, yPred []float64) (float64, error) {
	r, err := rmse(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	span := floats.Max(yTrue) - floats.Min(yTrue)
	if span == 0 {
		span = 1
	}
	return r / span, nil
}

func mae(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	var sum float64
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}
	return sum / float64(len(yTrue)), nil
}

// r2 is the coefficient of determination. Constant observations score 1 when
// matched exactly and 0 otherwise.
func r2(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	mean := stat.Mean(yTrue, nil)
	var ssRes, ssTot float64
	for i := range yTrue {
		ssRes += (yTrue[i] - yPred[i]) * (yTrue[i] - yPred[i])
		ssTot += (yTrue[i] - mean) * (yTrue[i] - mean)
	}
	switch {
	case ssRes == 0:
		return 1, nil
	case ssTot == 0:
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}

func constant(x []float64) bool {
	return floats.Max(x) == floats.Min(x)
}

// pearson is 0 when either series is constant.
func pearson(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	if len(yTrue) < 2 || constant(yTrue) || constant(yPred) {
		return 0, nil
	}
	return stat.Correlation(yTrue, yPred, nil), nil
}

func spearman(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	return pearson(rank(yTrue), rank(yPred))
}

// rank assigns 1-based ranks, averaging ties.
func rank(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	out := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && x[idx[j]] == x[idx[i]] {
			j++
		}
		r := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			out[idx[k]] = r
		}
		i = j
	}
	return out
}

// willmott is the index of agreement. Identical constant series score 1.
func willmott(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	mean := stat.Mean(yTrue, nil)
	var num, den float64
	for i := range yTrue {
		d := yPred[i] - yTrue[i]
		num += d * d
		s := math.Abs(yPred[i]-mean) + math.Abs(yTrue[i]-mean)
		den += s * s
	}
	switch {
	case num == 0:
		return 1, nil
	case den == 0:
		return 0, nil
	}
	return 1 - num/den, nil
}

func mbe(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	var sum float64
	for i := range yTrue {
		sum += yTrue[i] - yPred[i]
	}
	return sum / float64(len(yTrue)), nil
}

func mabe(yTrue, yPred []float64) (float64, error) {
	return mae(yTrue, yPred)
}

// nmbe is MBE as a percentage of the observed mean.
func nmbe(yTrue, yPred []float64) (float64, error) {
	m, err := mbe(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return safeDiv(m, stat.Mean(yTrue, nil)) * 100, nil
}

func fb(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	var diff float64
	for i := range yTrue {
		diff += yPred[i] - yTrue[i]
	}
	n := float64(len(yTrue))
	return safeDiv(2*diff/n, stat.Mean(yPred, nil)+stat.Mean(yTrue, nil)), nil
}

func fge(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	var diff float64
	for i := range yTrue {
		diff += math.Abs(yPred[i] - yTrue[i])
	}
	n := float64(len(yTrue))
	return safeDiv(2*diff/n, stat.Mean(yPred, nil)+stat.Mean(yTrue, nil)), nil
}

// factor2 is the percentage of predictions within a factor of two of the
// observation. An exact match always counts, including a zero observation.
func factor2(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	var within int
	for i := range yTrue {
		if yPred[i] == yTrue[i] {
			within++
			continue
		}
		ratio := yPred[i] / (yTrue[i] + epsilon)
		if ratio >= 0.5 && ratio <= 2 {
			within++
		}
	}
	return 100 * float64(within) / float64(len(yTrue)), nil
}
