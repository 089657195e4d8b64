// Package series holds the daily time-series table shared by the feature,
// forecasting and evaluation packages.
package series

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrShape   = errors.New("series: shape mismatch")
	ErrDates   = errors.New("series: dates must be unique and strictly increasing")
	ErrColumn  = errors.New("series: unknown column")
	ErrColumns = errors.New("series: column sets differ")
)

// Table is a date-indexed table of float64 columns with one row per day.
// A Table is never modified after construction; every operation returns a new
// Table, possibly sharing row storage with its source.
type Table struct {
	dates   []time.Time
	columns []string
	index   map[string]int
	rows    [][]float64
}

// Day truncates t to midnight UTC of its calendar date, dropping any zone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// New builds a table, copying the inputs. Dates are normalized with Day and
// must be strictly increasing.
func New(dates []time.Time, columns []string, rows [][]float64) (*Table, error) {
	if len(dates) != len(rows) {
		return nil, fmt.Errorf("%w: %d dates, %d rows", ErrShape, len(dates), len(rows))
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrShape, c)
		}
		index[c] = i
	}

	t := &Table{
		dates:   make([]time.Time, len(dates)),
		columns: append([]string(nil), columns...),
		index:   index,
		rows:    make([][]float64, len(rows)),
	}
	for i, d := range dates {
		t.dates[i] = Day(d)
		if i > 0 && !t.dates[i].After(t.dates[i-1]) {
			return nil, fmt.Errorf("%w: %s follows %s", ErrDates,
				t.dates[i].Format(time.DateOnly), t.dates[i-1].Format(time.DateOnly))
		}
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(r), len(columns))
		}
		t.rows[i] = append([]float64(nil), r...)
	}
	return t, nil
}

// Empty returns a table with the given columns and no rows.
func Empty(columns []string) *Table {
	t, _ := New(nil, columns, nil)
	return t
}

func (t *Table) Len() int   { return len(t.rows) }
func (t *Table) Width() int { return len(t.columns) }

func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

func (t *Table) Dates() []time.Time { return append([]time.Time(nil), t.dates...) }

func (t *Table) Date(i int) time.Time { return t.dates[i] }

// FirstDate and LastDate panic on an empty table.
func (t *Table) FirstDate() time.Time { return t.dates[0] }
func (t *Table) LastDate() time.Time  { return t.dates[len(t.dates)-1] }

// Row returns a copy of row i.
func (t *Table) Row(i int) []float64 { return append([]float64(nil), t.rows[i]...) }

// Rows returns a deep copy of all rows.
func (t *Table) Rows() [][]float64 {
	out := make([][]float64, len(t.rows))
	for i := range t.rows {
		out[i] = t.Row(i)
	}
	return out
}

func (t *Table) Value(i, j int) float64 { return t.rows[i][j] }

func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

func (t *Table) ColumnIndex(column string) (int, bool) {
	j, ok := t.index[column]
	return j, ok
}

// Column returns a copy of the named column.
func (t *Table) Column(column string) ([]float64, error) {
	j, ok := t.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumn, column)
	}
	out := make([]float64, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[j]
	}
	return out, nil
}

// Lookup returns the row index of date.
func (t *Table) Lookup(date time.Time) (int, bool) {
	date = Day(date)
	i := sort.Search(len(t.dates), func(i int) bool { return !t.dates[i].Before(date) })
	if i < len(t.dates) && t.dates[i].Equal(date) {
		return i, true
	}
	return 0, false
}

// Slice returns rows [i, j).
func (t *Table) Slice(i, j int) *Table {
	return &Table{
		dates:   t.dates[i:j:j],
		columns: t.columns,
		index:   t.index,
		rows:    t.rows[i:j:j],
	}
}

// Tail returns the last n rows, or the whole table if it is shorter.
func (t *Table) Tail(n int) *Table {
	if n >= t.Len() {
		return t
	}
	return t.Slice(t.Len()-n, t.Len())
}

// Between returns the rows whose dates fall in [from, to].
func (t *Table) Between(from, to time.Time) *Table {
	from, to = Day(from), Day(to)
	i := sort.Search(len(t.dates), func(i int) bool { return !t.dates[i].Before(from) })
	j := sort.Search(len(t.dates), func(i int) bool { return t.dates[i].After(to) })
	if j < i {
		j = i
	}
	return t.Slice(i, j)
}

// Select returns a table restricted to columns, in the given order.
func (t *Table) Select(columns ...string) (*Table, error) {
	idx := make([]int, len(columns))
	for k, c := range columns {
		j, ok := t.index[c]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrColumn, c)
		}
		idx[k] = j
	}
	rows := make([][]float64, len(t.rows))
	for i, r := range t.rows {
		row := make([]float64, len(idx))
		for k, j := range idx {
			row[k] = r[j]
		}
		rows[i] = row
	}
	return New(t.dates, columns, rows)
}

// WithRows returns a table with the same dates and columns and new values.
func (t *Table) WithRows(rows [][]float64) (*Table, error) {
	return New(t.dates, t.columns, rows)
}

// WithDates returns a table with the same values re-indexed to dates.
func (t *Table) WithDates(dates []time.Time) (*Table, error) {
	return New(dates, t.columns, t.rows)
}

// Concat appends the rows of others after t. All tables must carry the same
// columns in the same order and the result must stay strictly increasing.
func (t *Table) Concat(others ...*Table) (*Table, error) {
	dates := append([]time.Time(nil), t.dates...)
	rows := append([][]float64(nil), t.rows...)
	for _, o := range others {
		if !sameColumns(t.columns, o.columns) {
			return nil, fmt.Errorf("%w: %v vs %v", ErrColumns, t.columns, o.columns)
		}
		dates = append(dates, o.dates...)
		rows = append(rows, o.rows...)
	}
	return New(dates, t.columns, rows)
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SameColumns reports whether both tables carry the same ordered columns.
func SameColumns(a, b *Table) bool { return sameColumns(a.columns, b.columns) }
