package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lox/aqicast/internal/models"
	"github.com/lox/aqicast/internal/series"
)

// SourceArchive marks readings imported from the historical archive.
const SourceArchive = "archive"

// DailyMeans averages readings per local calendar day. Days that have live
// readings ignore archive rows for the same day.
func DailyMeans(readings []models.Reading, columns []string, loc *time.Location) (*series.Table, error) {
	if loc == nil {
		loc = time.UTC
	}
	type acc struct {
		live       bool
		sum, count []float64
	}
	days := make(map[time.Time]*acc)
	for _, r := range readings {
		d := series.Day(r.ObservedAt.In(loc))
		live := r.Source != SourceArchive
		a, ok := days[d]
		if !ok || (live && !a.live) {
			a = &acc{live: live, sum: make([]float64, len(columns)), count: make([]float64, len(columns))}
			days[d] = a
		} else if !live && a.live {
			continue
		}
		for j, c := range columns {
			if v, ok := r.Value(c); ok {
				a.sum[j] += v
				a.count[j]++
			}
		}
	}

	dates := make([]time.Time, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	rows := make([][]float64, len(dates))
	for i, d := range dates {
		a := days[d]
		row := make([]float64, len(columns))
		for j := range columns {
			if a.count[j] == 0 {
				row[j] = math.NaN()
				continue
			}
			row[j] = a.sum[j] / a.count[j]
		}
		rows[i] = row
	}
	return series.New(dates, columns, rows)
}

// WeatherTable converts daily weather records into a table.
func WeatherTable(days []models.DailyWeather, columns []string) (*series.Table, error) {
	sorted := append([]models.DailyWeather(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	dates := make([]time.Time, len(sorted))
	rows := make([][]float64, len(sorted))
	for i, w := range sorted {
		dates[i] = w.Date
		row := make([]float64, len(columns))
		for j, c := range columns {
			if v, ok := w.Value(c); ok {
				row[j] = v
			} else {
				row[j] = math.NaN()
			}
		}
		rows[i] = row
	}
	return series.New(dates, columns, rows)
}

// MergeAsOf appends the columns of right to left, taking for every left date
// the latest right row dated on or before it.
func MergeAsOf(left, right *series.Table) (*series.Table, error) {
	columns := left.Columns()
	for _, c := range right.Columns() {
		if left.Has(c) {
			return nil, fmt.Errorf("%w: column %q present on both sides of merge", ErrConfiguration, c)
		}
		columns = append(columns, c)
	}

	rows := make([][]float64, left.Len())
	k := -1
	for i := range left.Len() {
		for k+1 < right.Len() && !right.Date(k+1).After(left.Date(i)) {
			k++
		}
		row := left.Row(i)
		if k >= 0 {
			row = append(row, right.Row(k)...)
		} else {
			for range right.Width() {
				row = append(row, math.NaN())
			}
		}
		rows[i] = row
	}
	return series.New(left.Dates(), columns, rows)
}

// AssembleOptions controls Assemble.
type AssembleOptions struct {
	Pollutants []string
	Weather    []string
	Location   *time.Location
	// Holidays, when set, adds CalendarColumns after the pollutants.
	Holidays Holidays
}

// Assemble builds the cleaned daily feature table: daily pollutant means,
// reindexed to a gap-free calendar and interpolated, optional calendar
// features, then daily weather whose missing precipitation and snow count
// as zero.
func Assemble(readings []models.Reading, weather []models.DailyWeather, opts AssembleOptions) (*series.Table, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: no readings to assemble", ErrConfiguration)
	}
	pollutants := opts.Pollutants
	if len(pollutants) == 0 {
		pollutants = models.Pollutants
	}
	weatherCols := opts.Weather
	if weatherCols == nil {
		weatherCols = models.WeatherColumns
	}

	daily, err := DailyMeans(readings, pollutants, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("daily means: %w", err)
	}
	if daily, err = FillMissingDates(daily); err != nil {
		return nil, fmt.Errorf("fill dates: %w", err)
	}
	policies := make(map[string]FillPolicy, len(pollutants))
	for _, p := range pollutants {
		policies[p] = FillInterpolate
	}
	if daily, err = FillMissingValues(daily, policies); err != nil {
		return nil, fmt.Errorf("fill pollutants: %w", err)
	}
	if opts.Holidays != nil {
		if daily, err = AddCalendarFeatures(daily, opts.Holidays); err != nil {
			return nil, fmt.Errorf("calendar features: %w", err)
		}
	}
	if len(weatherCols) == 0 {
		return daily, nil
	}

	w, err := WeatherTable(weather, weatherCols)
	if err != nil {
		return nil, fmt.Errorf("weather table: %w", err)
	}
	if w, err = FillMissingValues(w, map[string]FillPolicy{"prcp": FillZero, "snow": FillZero}); err != nil {
		return nil, fmt.Errorf("fill weather: %w", err)
	}
	merged, err := MergeAsOf(daily, w)
	if err != nil {
		return nil, err
	}
	return FillMissingValues(merged, map[string]FillPolicy{"prcp": FillZero, "snow": FillZero})
}
