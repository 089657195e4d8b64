package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/aqicast/internal/features"
)

// linearData returns rows with y0 = 2*x0 - x1 + 3 and y1 = x1 + 0.5*x2.
func linearData(n int) (x, y [][]float64) {
	for i := range n {
		a, b, c := float64(i%7), float64((i*3)%11), float64((i*5)%13)
		x = append(x, []float64{a, b, c})
		y = append(y, []float64{2*a - b + 3, b + 0.5*c})
	}
	return x, y
}

func TestRidge_RecoversLinearRelationship(t *testing.T) {
	x, y := linearData(80)
	r := NewRidge(1e-6)
	require.NoError(t, r.Fit(x, y))

	pred, err := r.Predict([][]float64{{4, 2, 6}, {0, 0, 0}})
	require.NoError(t, err)
	assert.InDelta(t, 9, pred[0][0], 1e-4)
	assert.InDelta(t, 5, pred[0][1], 1e-4)
	assert.InDelta(t, 3, pred[1][0], 1e-4)
	assert.InDelta(t, 0, pred[1][1], 1e-4)
}

func TestRidge_PenaltyShrinksTowardsMean(t *testing.T) {
	x, y := linearData(40)
	weak, strong := NewRidge(1e-6), NewRidge(1e6)
	require.NoError(t, weak.Fit(x, y))
	require.NoError(t, strong.Fit(x, y))

	sample := [][]float64{{6, 10, 12}}
	pw, err := weak.Predict(sample)
	require.NoError(t, err)
	ps, err := strong.Predict(sample)
	require.NoError(t, err)

	assert.Less(t, abs(ps[0][0]-strong.YMean[0]), abs(pw[0][0]-weak.YMean[0]))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestRidge_Errors(t *testing.T) {
	r := NewRidge(1)
	_, err := r.Predict([][]float64{{1}})
	require.ErrorIs(t, err, features.ErrState)

	err = r.Fit([][]float64{{1, 2}, {3}}, [][]float64{{1}, {2}})
	require.ErrorIs(t, err, features.ErrConfiguration)

	err = r.Fit([][]float64{{1}, {2}}, [][]float64{{1}})
	require.ErrorIs(t, err, features.ErrConfiguration)

	x, y := linearData(20)
	require.NoError(t, r.Fit(x, y))
	_, err = r.Predict([][]float64{{1, 2}})
	require.ErrorIs(t, err, features.ErrConfiguration)
}

func TestRidge_EncodeDecode(t *testing.T) {
	x, y := linearData(30)
	r := NewRidge(0.5)
	require.NoError(t, r.Fit(x, y))

	blob, err := r.Encode()
	require.NoError(t, err)
	restored, err := DecodeRidge(blob)
	require.NoError(t, err)

	a, err := r.Predict(x[:5])
	require.NoError(t, err)
	b, err := restored.Predict(x[:5])
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = DecodeRidge([]byte(`{"inputs":2,"outputs":1,"weights":[[1]]}`))
	require.ErrorIs(t, err, features.ErrConfiguration)
}
