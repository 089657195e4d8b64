package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/aqicast/internal/series"
)

func day(n int) time.Time {
	return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

// makeTable builds a table of n days starting at offset, one row per day
// produced by fn.
func makeTable(t *testing.T, columns []string, offset, n int, fn func(i int) []float64) *series.Table {
	t.Helper()
	dates := make([]time.Time, n)
	rows := make([][]float64, n)
	for i := range n {
		dates[i] = day(offset + i)
		rows[i] = fn(offset + i)
	}
	tbl, err := series.New(dates, columns, rows)
	require.NoError(t, err)
	return tbl
}

func sampleRow(i int) []float64 {
	return []float64{
		20 + 3*math.Sin(float64(i)),
		float64(i%7) * 1.5,
		float64(i % 2),
		1000 + float64(i),
	}
}

var sampleColumns = []string{"pm25", "no2", "is_working_day", "pres"}

func TestFit_StandardizesOverTrainAndValidation(t *testing.T) {
	train := makeTable(t, []string{"a"}, 0, 2, func(i int) []float64 { return []float64{float64(i)} })
	val := makeTable(t, []string{"a"}, 2, 2, func(i int) []float64 { return []float64{float64(i)} })

	sc, err := Fit(train, val)
	require.NoError(t, err)

	p := sc.Params()["a"]
	assert.InDelta(t, 1.5, p.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), p.Scale, 1e-12)
}

func TestFit_SkipsFlagColumns(t *testing.T) {
	train := makeTable(t, sampleColumns, 0, 20, sampleRow)
	val := makeTable(t, sampleColumns, 20, 5, sampleRow)

	sc, err := Fit(train, val)
	require.NoError(t, err)
	assert.Equal(t, []string{"pm25", "no2", "pres"}, sc.Columns())

	scaled, err := sc.Transform(train)
	require.NoError(t, err)
	flags, err := scaled.Column("is_working_day")
	require.NoError(t, err)
	orig, err := train.Column("is_working_day")
	require.NoError(t, err)
	assert.Equal(t, orig, flags)
}

func TestFit_MissingRequestedColumn(t *testing.T) {
	train := makeTable(t, sampleColumns, 0, 10, sampleRow)
	val := makeTable(t, sampleColumns, 10, 5, sampleRow)

	_, err := Fit(train, val, WithColumns("pm25", "o3"))
	require.ErrorIs(t, err, ErrConfiguration)

	narrow, err := val.Select("pm25", "no2")
	require.NoError(t, err)
	_, err = Fit(train, narrow)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestFit_DoesNotMutateInputs(t *testing.T) {
	train := makeTable(t, sampleColumns, 0, 10, sampleRow)
	val := makeTable(t, sampleColumns, 10, 5, sampleRow)
	before := train.Rows()

	sc, err := Fit(train, val)
	require.NoError(t, err)
	_, err = sc.Transform(train)
	require.NoError(t, err)

	assert.Equal(t, before, train.Rows())
}

func TestTransform_RoundTrip(t *testing.T) {
	train := makeTable(t, sampleColumns, 0, 30, sampleRow)
	val := makeTable(t, sampleColumns, 30, 5, sampleRow)
	test := makeTable(t, sampleColumns, 35, 12, sampleRow)

	sc, err := Fit(train, val)
	require.NoError(t, err)

	for _, tbl := range []*series.Table{train, val, test} {
		scaled, err := sc.Transform(tbl)
		require.NoError(t, err)
		back, err := sc.InverseTransform(scaled)
		require.NoError(t, err)

		for i := range tbl.Len() {
			for j := range tbl.Width() {
				assert.InDelta(t, tbl.Value(i, j), back.Value(i, j), 1e-6)
			}
		}
	}
}

func TestTransform_ZeroVarianceIsNoOpScale(t *testing.T) {
	constant := func(int) []float64 { return []float64{5} }
	train := makeTable(t, []string{"so2"}, 0, 5, constant)
	val := makeTable(t, []string{"so2"}, 5, 2, constant)

	sc, err := Fit(train, val)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sc.Params()["so2"].Scale)

	scaled, err := sc.Transform(train)
	require.NoError(t, err)
	for i := range scaled.Len() {
		v := scaled.Value(i, 0)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		assert.Equal(t, 0.0, v)
	}
}

func TestTransform_Unfitted(t *testing.T) {
	tbl := makeTable(t, sampleColumns, 0, 3, sampleRow)

	var nilScaler *Scaler
	_, err := nilScaler.Transform(tbl)
	require.ErrorIs(t, err, ErrState)

	_, err = (&Scaler{}).InverseTransform(tbl)
	require.ErrorIs(t, err, ErrState)
}

func TestTransform_ExtraColumnsPassThrough(t *testing.T) {
	train := makeTable(t, []string{"pm25"}, 0, 10, func(i int) []float64 { return []float64{float64(i)} })
	val := makeTable(t, []string{"pm25"}, 10, 2, func(i int) []float64 { return []float64{float64(i)} })
	sc, err := Fit(train, val)
	require.NoError(t, err)

	wide := makeTable(t, []string{"pm25", "extra"}, 0, 3, func(i int) []float64 { return []float64{float64(i), 42} })
	scaled, err := sc.Transform(wide)
	require.NoError(t, err)
	extra, err := scaled.Column("extra")
	require.NoError(t, err)
	assert.Equal(t, []float64{42, 42, 42}, extra)
}

func TestFit_NoLeakageFromTestData(t *testing.T) {
	clean := makeTable(t, sampleColumns, 0, 50, sampleRow)
	spiky := makeTable(t, sampleColumns, 0, 50, func(i int) []float64 {
		if i >= 45 {
			return []float64{1e6, -1e6, 1, 0}
		}
		return sampleRow(i)
	})

	a, err := Split(clean, 0.8, 0.1)
	require.NoError(t, err)
	b, err := Split(spiky, 0.8, 0.1)
	require.NoError(t, err)
	require.Equal(t, 5, b.Test.Len())

	sa, err := Fit(a.Train, a.Validation)
	require.NoError(t, err)
	sb, err := Fit(b.Train, b.Validation)
	require.NoError(t, err)

	assert.Equal(t, sa.Params(), sb.Params())
}

func TestScaler_EncodeDecode(t *testing.T) {
	train := makeTable(t, sampleColumns, 0, 20, sampleRow)
	val := makeTable(t, sampleColumns, 20, 5, sampleRow)
	sc, err := Fit(train, val)
	require.NoError(t, err)

	blob, err := sc.Encode()
	require.NoError(t, err)
	restored, err := DecodeScaler(blob)
	require.NoError(t, err)
	assert.Equal(t, sc.Params(), restored.Params())

	a, err := sc.Transform(val)
	require.NoError(t, err)
	b, err := restored.Transform(val)
	require.NoError(t, err)
	assert.Equal(t, a.Rows(), b.Rows())

	_, err = (&Scaler{}).Encode()
	require.ErrorIs(t, err, ErrState)
}
