// Package model provides the regressor trained on flattened feature windows.
package model

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/aqicast/internal/features"
)

// DefaultAlpha is the L2 penalty used when none is configured.
const DefaultAlpha = 1.0

// Ridge is a multi-output linear model with L2 regularization and an
// unpenalized intercept.
type Ridge struct {
	Alpha   float64     `json:"alpha"`
	Inputs  int         `json:"inputs"`
	Outputs int         `json:"outputs"`
	XMean   []float64   `json:"x_mean"`
	YMean   []float64   `json:"y_mean"`
	Weights [][]float64 `json:"weights"` // Inputs rows of Outputs coefficients
}

func NewRidge(alpha float64) *Ridge {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	return &Ridge{Alpha: alpha}
}

func shape(m [][]float64) (rows, cols int, err error) {
	if len(m) == 0 {
		return 0, 0, fmt.Errorf("%w: empty matrix", features.ErrConfiguration)
	}
	cols = len(m[0])
	for i, r := range m {
		if len(r) != cols {
			return 0, 0, fmt.Errorf("%w: row %d has %d values, want %d", features.ErrConfiguration, i, len(r), cols)
		}
	}
	return len(m), cols, nil
}

func columnMeans(m [][]float64, cols int) []float64 {
	means := make([]float64, cols)
	col := make([]float64, len(m))
	for j := range cols {
		for i := range m {
			col[i] = m[i][j]
		}
		means[j] = stat.Mean(col, nil)
	}
	return means
}

func centered(m [][]float64, means []float64) *mat.Dense {
	d := mat.NewDense(len(m), len(means), nil)
	for i, r := range m {
		row := d.RawRowView(i)
		copy(row, r)
		floats.Sub(row, means)
	}
	return d
}

// Fit solves (XᵀX + αI)W = XᵀY on centered data.
func (r *Ridge) Fit(x, y [][]float64) error {
	n, d, err := shape(x)
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	ny, k, err := shape(y)
	if err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	if n != ny {
		return fmt.Errorf("%w: %d feature rows, %d target rows", features.ErrConfiguration, n, ny)
	}
	if r.Alpha <= 0 {
		r.Alpha = DefaultAlpha
	}

	xMean, yMean := columnMeans(x, d), columnMeans(y, k)
	xc, yc := centered(x, xMean), centered(y, yMean)

	var gram mat.Dense
	gram.Mul(xc.T(), xc)
	for i := range d {
		gram.Set(i, i, gram.At(i, i)+r.Alpha)
	}
	var xty mat.Dense
	xty.Mul(xc.T(), yc)

	var w mat.Dense
	if err := w.Solve(&gram, &xty); err != nil {
		return fmt.Errorf("solve ridge system: %w", err)
	}

	r.Inputs, r.Outputs = d, k
	r.XMean, r.YMean = xMean, yMean
	r.Weights = make([][]float64, d)
	for i := range d {
		r.Weights[i] = append([]float64(nil), w.RawRowView(i)...)
	}
	return nil
}

// Predict returns one output row per input row.
func (r *Ridge) Predict(x [][]float64) ([][]float64, error) {
	if r == nil || r.Weights == nil {
		return nil, fmt.Errorf("%w: ridge model is not fitted", features.ErrState)
	}
	_, d, err := shape(x)
	if err != nil {
		return nil, err
	}
	if d != r.Inputs {
		return nil, fmt.Errorf("%w: %d inputs, model expects %d", features.ErrConfiguration, d, r.Inputs)
	}

	w := mat.NewDense(r.Inputs, r.Outputs, nil)
	for i, row := range r.Weights {
		w.SetRow(i, row)
	}
	xc := centered(x, r.XMean)
	var out mat.Dense
	out.Mul(xc, w)

	pred := make([][]float64, len(x))
	for i := range pred {
		row := append([]float64(nil), out.RawRowView(i)...)
		floats.Add(row, r.YMean)
		pred[i] = row
	}
	return pred, nil
}

func (r *Ridge) Encode() ([]byte, error) {
	if r == nil || r.Weights == nil {
		return nil, fmt.Errorf("%w: ridge model is not fitted", features.ErrState)
	}
	return json.Marshal(r)
}

func DecodeRidge(data []byte) (*Ridge, error) {
	var r Ridge
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode ridge: %w", err)
	}
	if len(r.Weights) != r.Inputs || len(r.XMean) != r.Inputs || len(r.YMean) != r.Outputs {
		return nil, fmt.Errorf("%w: ridge blob has inconsistent dimensions", features.ErrConfiguration)
	}
	for i, row := range r.Weights {
		if len(row) != r.Outputs {
			return nil, fmt.Errorf("%w: ridge weight row %d has %d values, want %d",
				features.ErrConfiguration, i, len(row), r.Outputs)
		}
	}
	return &r, nil
}
