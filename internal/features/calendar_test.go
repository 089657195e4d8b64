package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/aqicast/internal/series"
)

func TestEasterSunday(t *testing.T) {
	for year, want := range map[int]time.Time{
		2019: time.Date(2019, 4, 21, 0, 0, 0, 0, time.UTC),
		2023: time.Date(2023, 4, 9, 0, 0, 0, 0, time.UTC),
		2024: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		2025: time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC),
	} {
		assert.Equal(t, want, easterSunday(year), "year %d", year)
	}
}

func TestSlovakHolidays(t *testing.T) {
	tests := []struct {
		date time.Time
		want bool
	}{
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC), true}, // Good Friday
		{time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), true},  // Easter Monday
		{time.Date(2024, 8, 29, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SlovakHolidays(tt.date), tt.date.Format(time.DateOnly))
	}
}

func TestAddCalendarFeatures(t *testing.T) {
	dates := []time.Time{
		time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), // Wednesday
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), // Saturday
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), // Easter Monday
	}
	tbl, err := series.New(dates, []string{"pm25"}, [][]float64{{1}, {2}, {3}, {4}})
	require.NoError(t, err)

	out, err := AddCalendarFeatures(tbl, SlovakHolidays)
	require.NoError(t, err)
	assert.Equal(t, append([]string{"pm25"}, CalendarColumns...), out.Columns())

	col := func(name string) []float64 {
		v, err := out.Column(name)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, []float64{1, 2, 3, 4}, col("pm25"))
	assert.Equal(t, []float64{2, 3, 5, 0}, col("day_of_week"))
	assert.Equal(t, []float64{1, 1, 0, 0}, col("is_working_day"))
	assert.Equal(t, []float64{0, 1, 0, 0}, col("is_feb29"))
	assert.Equal(t, []float64{1, 1, 1, 1}, col("is_leap_year"))
	assert.Equal(t, []float64{59, 60, 62, 92}, col("day_of_year"))
	assert.Equal(t, []float64{9, 9, 9, 14}, col("week_of_year"))
}
