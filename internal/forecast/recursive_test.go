package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/aqicast/internal/series"
)

var epoch = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return epoch.AddDate(0, 0, n) }

// rampTable has pm25 = i and no2 = 10*i on day i.
func rampTable(t *testing.T, n int) *series.Table {
	t.Helper()
	dates := make([]time.Time, n)
	rows := make([][]float64, n)
	for i := range n {
		dates[i] = day(i)
		rows[i] = []float64{float64(i), float64(10 * i)}
	}
	tbl, err := series.New(dates, []string{"pm25", "no2"}, rows)
	require.NoError(t, err)
	return tbl
}

// persistence repeats the last input row; dates are overwritten by the
// forecaster so any placeholder works.
func persistence(p int) PredictFunc {
	return func(_ context.Context, input *series.Table) (*series.Table, error) {
		last := input.Row(input.Len() - 1)
		dates := make([]time.Time, p)
		rows := make([][]float64, p)
		for i := range p {
			dates[i] = day(1000 + i)
			rows[i] = last
		}
		return series.New(dates, input.Columns(), rows)
	}
}

func TestRecursive_BoundaryStartsAndTruth(t *testing.T) {
	tbl := rampTable(t, 10)
	run, err := Recursive(context.Background(), tbl, persistence(3), Options{Historical: 3, Prediction: 3, NumPredictions: 1})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, run.Starts)
	require.Len(t, run.Truth, 5)
	require.Len(t, run.Prediction, 5)

	last := run.Truth[4]
	assert.Equal(t, tbl.Slice(7, 10).Rows(), last.Rows())
	assert.Equal(t, []time.Time{day(7), day(8), day(9)}, run.Prediction[4].Dates())
	// Persistence repeats row 6 for start 4.
	assert.Equal(t, [][]float64{{6, 60}, {6, 60}, {6, 60}}, run.Prediction[4].Rows())
}

func TestRecursive_StartCount(t *testing.T) {
	tests := []struct {
		n, h, p, steps int
		want           int
	}{
		{10, 3, 2, 1, 6},
		{10, 3, 2, 2, 4},
		{10, 3, 1, 7, 1},
		{10, 3, 1, 8, 0},
		{5, 7, 1, 1, 0},
	}
	for _, tt := range tests {
		run, err := Recursive(context.Background(), rampTable(t, tt.n), persistence(tt.p),
			Options{Historical: tt.h, Prediction: tt.p, NumPredictions: tt.steps})
		require.NoError(t, err)
		assert.Len(t, run.Starts, tt.want, "n=%d h=%d p=%d steps=%d", tt.n, tt.h, tt.p, tt.steps)
	}
}

func TestRecursive_RollingWindowFeedsPredictions(t *testing.T) {
	tbl := rampTable(t, 8)
	var steps []Step
	opts := Options{Historical: 3, Prediction: 1, NumPredictions: 3, Trace: func(s Step) { steps = append(steps, s) }}

	// Predict the input mean so every step depends on the previous output.
	mean := func(_ context.Context, input *series.Table) (*series.Table, error) {
		row := make([]float64, input.Width())
		for i := range input.Len() {
			for j := range row {
				row[j] += input.Value(i, j) / float64(input.Len())
			}
		}
		return series.New([]time.Time{day(0)}, input.Columns(), [][]float64{row})
	}

	run, err := Recursive(context.Background(), tbl, mean, opts)
	require.NoError(t, err)
	require.Len(t, run.Starts, 3)
	require.Len(t, steps, 9)

	// Start 0: inputs 0,1,2 -> 1; then 1,2,1 -> 4/3; then 2,1,4/3 -> 13/9.
	first := steps[:3]
	assert.Equal(t, []float64{0, 1, 2}, column(t, first[0].Input, "pm25"))
	assert.InDeltaSlice(t, []float64{1, 2, 1}, column(t, first[1].Input, "pm25"), 1e-12)
	assert.InDeltaSlice(t, []float64{2, 1, 4.0 / 3}, column(t, first[2].Input, "pm25"), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 4.0 / 3, 13.0 / 9}, column(t, run.Prediction[0], "pm25"), 1e-12)
	assert.Equal(t, []float64{3, 4, 5}, column(t, run.Truth[0], "pm25"))

	for _, s := range steps {
		assert.Equal(t, 3, s.Input.Len())
		assert.Equal(t, s.Input.LastDate().AddDate(0, 0, 1), s.Prediction.FirstDate())
	}
}

func column(t *testing.T, tbl *series.Table, name string) []float64 {
	t.Helper()
	c, err := tbl.Column(name)
	require.NoError(t, err)
	return c
}

func TestRecursive_Deterministic(t *testing.T) {
	tbl := rampTable(t, 20)
	opts := Options{Historical: 4, Prediction: 2, NumPredictions: 2}

	a, err := Recursive(context.Background(), tbl, persistence(2), opts)
	require.NoError(t, err)
	b, err := Recursive(context.Background(), tbl, persistence(2), opts)
	require.NoError(t, err)

	require.Equal(t, len(a.Prediction), len(b.Prediction))
	for i := range a.Prediction {
		assert.Equal(t, a.Prediction[i].Rows(), b.Prediction[i].Rows())
		assert.Equal(t, a.Truth[i].Rows(), b.Truth[i].Rows())
	}
}

func TestRecursive_Errors(t *testing.T) {
	tbl := rampTable(t, 10)
	ctx := context.Background()

	_, err := Recursive(ctx, tbl, persistence(1), Options{Historical: 0, Prediction: 1, NumPredictions: 1})
	require.ErrorIs(t, err, ErrConfiguration)

	boom := errors.New("boom")
	failing := func(context.Context, *series.Table) (*series.Table, error) { return nil, boom }
	_, err = Recursive(ctx, tbl, failing, Options{Historical: 3, Prediction: 1, NumPredictions: 1})
	require.ErrorIs(t, err, boom)

	_, err = Recursive(ctx, tbl, persistence(2), Options{Historical: 3, Prediction: 1, NumPredictions: 1})
	require.ErrorIs(t, err, ErrConfiguration)

	wrongColumns := func(_ context.Context, input *series.Table) (*series.Table, error) {
		return series.New([]time.Time{day(0)}, []string{"o3"}, [][]float64{{1}})
	}
	_, err = Recursive(ctx, tbl, wrongColumns, Options{Historical: 3, Prediction: 1, NumPredictions: 1})
	require.ErrorIs(t, err, ErrConfiguration)

	gappy, err := series.New([]time.Time{day(0), day(1), day(3), day(4)}, []string{"pm25", "no2"},
		[][]float64{{0, 0}, {1, 10}, {3, 30}, {4, 40}})
	require.NoError(t, err)
	_, err = Recursive(ctx, gappy, persistence(1), Options{Historical: 2, Prediction: 1, NumPredictions: 1})
	require.ErrorIs(t, err, ErrConfiguration)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Recursive(cancelled, tbl, persistence(1), Options{Historical: 3, Prediction: 1, NumPredictions: 1})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFuture(t *testing.T) {
	tbl := rampTable(t, 10)
	out, err := Future(context.Background(), tbl, persistence(2), Options{Historical: 3, Prediction: 2, NumPredictions: 2})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(10), day(11), day(12), day(13)}, out.Dates())
	assert.Equal(t, []float64{9, 9, 9, 9}, column(t, out, "pm25"))

	_, err = Future(context.Background(), tbl.Slice(0, 2), persistence(2), Options{Historical: 3, Prediction: 2, NumPredictions: 1})
	require.ErrorIs(t, err, ErrConfiguration)
}

type fakeRegressor struct {
	out [][]float64
	err error
	got [][]float64
}

func (f *fakeRegressor) Predict(x [][]float64) ([][]float64, error) {
	f.got = x
	return f.out, f.err
}

func TestRegressorPredictFunc(t *testing.T) {
	tbl := rampTable(t, 3)
	reg := &fakeRegressor{out: [][]float64{{1, 2, 3, 4}}}

	out, err := RegressorPredictFunc(reg)(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0, 1, 10, 2, 20}}, reg.got)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, out.Rows())
	assert.Equal(t, day(3), out.FirstDate())

	reg.out = [][]float64{{1, 2, 3}}
	_, err = RegressorPredictFunc(reg)(context.Background(), tbl)
	require.ErrorIs(t, err, ErrConfiguration)
}
