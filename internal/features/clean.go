package features

import (
	"math"
	"sort"
	"time"

	"github.com/lox/aqicast/internal/series"
)

// FillPolicy selects how FillMissingValues repairs a column.
type FillPolicy int

const (
	FillMedian FillPolicy = iota
	FillZero
	FillInterpolate
)

// FillMissingDates reindexes t onto every calendar day between its first and
// last date. Inserted rows are all NaN.
func FillMissingDates(t *series.Table) (*series.Table, error) {
	if t.Len() == 0 {
		return t, nil
	}
	var dates []time.Time
	var rows [][]float64
	for d := t.FirstDate(); !d.After(t.LastDate()); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
		if i, ok := t.Lookup(d); ok {
			rows = append(rows, t.Row(i))
			continue
		}
		row := make([]float64, t.Width())
		for j := range row {
			row[j] = math.NaN()
		}
		rows = append(rows, row)
	}
	return series.New(dates, t.Columns(), rows)
}

// FillMissingValues replaces NaN cells column by column. Columns without an
// explicit policy use FillMedian. A column with no known values becomes 0.
func FillMissingValues(t *series.Table, policies map[string]FillPolicy) (*series.Table, error) {
	rows := t.Rows()
	for j, c := range t.Columns() {
		col := make([]float64, len(rows))
		for i := range rows {
			col[i] = rows[i][j]
		}
		switch policies[c] {
		case FillZero:
			fillConst(col, 0)
		case FillInterpolate:
			interpolate(col)
		default:
			fillConst(col, median(col))
		}
		for i := range rows {
			rows[i][j] = col[i]
		}
	}
	return t.WithRows(rows)
}

// CountMissing returns the number of NaN cells per column.
func CountMissing(t *series.Table) map[string]int {
	out := make(map[string]int)
	for j, c := range t.Columns() {
		for i := range t.Len() {
			if math.IsNaN(t.Value(i, j)) {
				out[c]++
			}
		}
	}
	return out
}

func fillConst(col []float64, v float64) {
	for i, x := range col {
		if math.IsNaN(x) {
			col[i] = v
		}
	}
}

// interpolate fills interior gaps linearly and carries the nearest known
// value outward at both ends.
func interpolate(col []float64) {
	prev := -1
	for i, x := range col {
		if math.IsNaN(x) {
			continue
		}
		switch {
		case prev == -1:
			for k := 0; k < i; k++ {
				col[k] = x
			}
		case i-prev > 1:
			step := (x - col[prev]) / float64(i-prev)
			for k := prev + 1; k < i; k++ {
				col[k] = col[prev] + step*float64(k-prev)
			}
		}
		prev = i
	}
	if prev == -1 {
		fillConst(col, 0)
		return
	}
	for k := prev + 1; k < len(col); k++ {
		col[k] = col[prev]
	}
}

func median(col []float64) float64 {
	known := make([]float64, 0, len(col))
	for _, x := range col {
		if !math.IsNaN(x) {
			known = append(known, x)
		}
	}
	if len(known) == 0 {
		return 0
	}
	sort.Float64s(known)
	n := len(known)
	if n%2 == 1 {
		return known[n/2]
	}
	return (known[n/2-1] + known[n/2]) / 2
}
