package features

import (
	"fmt"

	"github.com/lox/aqicast/internal/series"
)

// Splits are contiguous chronological partitions of one table.
type Splits struct {
	Train, Validation, Test *series.Table
}

// Split partitions t chronologically: the first trainFrac of rows for
// training, the next valFrac for validation and the rest for testing.
// Partition sizes are truncated toward zero.
func Split(t *series.Table, trainFrac, valFrac float64) (Splits, error) {
	if trainFrac <= 0 || valFrac < 0 || trainFrac+valFrac > 1 {
		return Splits{}, fmt.Errorf("%w: invalid split fractions train=%.2f val=%.2f",
			ErrConfiguration, trainFrac, valFrac)
	}
	n := t.Len()
	trainSize := int(float64(n) * trainFrac)
	valSize := int(float64(n) * valFrac)
	return Splits{
		Train:      t.Slice(0, trainSize),
		Validation: t.Slice(trainSize, trainSize+valSize),
		Test:       t.Slice(trainSize+valSize, n),
	}, nil
}

// Transform applies the scaler to every split.
func (s Splits) Transform(sc *Scaler) (Splits, error) {
	var out Splits
	var err error
	if out.Train, err = sc.Transform(s.Train); err != nil {
		return Splits{}, fmt.Errorf("scale train: %w", err)
	}
	if out.Validation, err = sc.Transform(s.Validation); err != nil {
		return Splits{}, fmt.Errorf("scale validation: %w", err)
	}
	if out.Test, err = sc.Transform(s.Test); err != nil {
		return Splits{}, fmt.Errorf("scale test: %w", err)
	}
	return out, nil
}
