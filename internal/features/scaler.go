package features

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/lox/aqicast/internal/series"
)

// DefaultFlagColumns are binary calendar indicators that are never scaled.
var DefaultFlagColumns = []string{"is_leap_year", "is_feb29", "is_working_day"}

// ColumnParams is the fitted standardization of one column.
type ColumnParams struct {
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// Scaler is a fitted per-column standardization. It is produced only by Fit
// or DecodeScaler and cannot be refitted.
type Scaler struct {
	columns []string
	params  []ColumnParams
	fitted  bool
}

type scalerOptions struct {
	columns []string
	flags   []string
}

type ScalerOption func(*scalerOptions)

// WithColumns restricts fitting to the named columns. Flag columns are still
// skipped.
func WithColumns(columns ...string) ScalerOption {
	return func(o *scalerOptions) { o.columns = columns }
}

// WithFlagColumns replaces DefaultFlagColumns.
func WithFlagColumns(columns ...string) ScalerOption {
	return func(o *scalerOptions) { o.flags = columns }
}

// Fit computes population mean and standard deviation per non-flag column
// over the rows of train and val together. Neither table is modified.
func Fit(train, val *series.Table, opts ...ScalerOption) (*Scaler, error) {
	o := scalerOptions{flags: DefaultFlagColumns}
	for _, opt := range opts {
		opt(&o)
	}
	if train == nil || val == nil {
		return nil, fmt.Errorf("%w: fit requires train and validation tables", ErrConfiguration)
	}
	if train.Len()+val.Len() == 0 {
		return nil, fmt.Errorf("%w: fit requires at least one row", ErrConfiguration)
	}

	requested := o.columns
	if requested == nil {
		requested = train.Columns()
	}

	s := &Scaler{fitted: true}
	for _, c := range requested {
		if slices.Contains(o.flags, c) {
			continue
		}
		a, err := train.Column(c)
		if err != nil {
			return nil, fmt.Errorf("%w: train: %w", ErrConfiguration, err)
		}
		b, err := val.Column(c)
		if err != nil {
			return nil, fmt.Errorf("%w: validation: %w", ErrConfiguration, err)
		}
		values := append(a, b...)
		if slices.ContainsFunc(values, math.IsNaN) {
			return nil, fmt.Errorf("%w: column %q contains missing values", ErrConfiguration, c)
		}

		mean, std := stat.PopMeanStdDev(values, nil)
		if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
			std = 1
		}
		s.columns = append(s.columns, c)
		s.params = append(s.params, ColumnParams{Mean: mean, Scale: std})
	}
	return s, nil
}

// Columns returns the scaled columns in fit order.
func (s *Scaler) Columns() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.columns)
}

// Params returns the fitted parameters keyed by column.
func (s *Scaler) Params() map[string]ColumnParams {
	if s == nil {
		return nil
	}
	out := make(map[string]ColumnParams, len(s.columns))
	for i, c := range s.columns {
		out[c] = s.params[i]
	}
	return out
}

// Transform standardizes the fitted columns of t as (x - mean) / scale.
func (s *Scaler) Transform(t *series.Table) (*series.Table, error) {
	return s.apply(t, func(x float64, p ColumnParams) float64 { return (x - p.Mean) / p.Scale })
}

// InverseTransform undoes Transform as x*scale + mean.
func (s *Scaler) InverseTransform(t *series.Table) (*series.Table, error) {
	return s.apply(t, func(x float64, p ColumnParams) float64 { return x*p.Scale + p.Mean })
}

func (s *Scaler) apply(t *series.Table, fn func(float64, ColumnParams) float64) (*series.Table, error) {
	if s == nil || !s.fitted {
		return nil, fmt.Errorf("%w: scaler used before fit", ErrState)
	}
	idx := make([]int, len(s.columns))
	for k, c := range s.columns {
		j, ok := t.ColumnIndex(c)
		if !ok {
			return nil, fmt.Errorf("%w: table has no fitted column %q", ErrConfiguration, c)
		}
		idx[k] = j
	}

	rows := t.Rows()
	for _, row := range rows {
		for k, j := range idx {
			row[j] = fn(row[j], s.params[k])
		}
	}
	return t.WithRows(rows)
}

type scalerBlob struct {
	Columns []string       `json:"columns"`
	Params  []ColumnParams `json:"params"`
}

// Encode serializes the fitted state for reuse at inference time.
func (s *Scaler) Encode() ([]byte, error) {
	if s == nil || !s.fitted {
		return nil, fmt.Errorf("%w: encode of unfitted scaler", ErrState)
	}
	return json.Marshal(scalerBlob{Columns: s.columns, Params: s.params})
}

// DecodeScaler restores a scaler produced by Encode.
func DecodeScaler(data []byte) (*Scaler, error) {
	var b scalerBlob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if len(b.Columns) != len(b.Params) {
		return nil, fmt.Errorf("%w: scaler blob has %d columns and %d params", ErrConfiguration, len(b.Columns), len(b.Params))
	}
	for i, p := range b.Params {
		if p.Scale == 0 {
			return nil, fmt.Errorf("%w: zero scale for column %q", ErrConfiguration, b.Columns[i])
		}
	}
	return &Scaler{columns: b.Columns, params: b.Params, fitted: true}, nil
}
