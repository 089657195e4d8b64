package features

import (
	"time"

	"github.com/lox/aqicast/internal/series"
)

// CalendarColumns are appended by AddCalendarFeatures, in this order.
var CalendarColumns = []string{
	"year", "month", "day_of_month", "day_of_week", "day_of_year",
	"week_of_year", "is_leap_year", "is_working_day", "is_feb29",
}

// Holidays reports whether a date is a public holiday.
type Holidays func(time.Time) bool

// AddCalendarFeatures appends CalendarColumns derived from each row's date.
// Day of week counts from Monday = 0.
func AddCalendarFeatures(t *series.Table, holidays Holidays) (*series.Table, error) {
	if holidays == nil {
		holidays = func(time.Time) bool { return false }
	}
	rows := make([][]float64, t.Len())
	for i := range t.Len() {
		d := t.Date(i)
		_, week := d.ISOWeek()
		weekday := (int(d.Weekday()) + 6) % 7
		working := weekday < 5 && !holidays(d)
		feb29 := d.Month() == time.February && d.Day() == 29
		rows[i] = append(t.Row(i),
			float64(d.Year()),
			float64(d.Month()),
			float64(d.Day()),
			float64(weekday),
			float64(d.YearDay()),
			float64(week),
			boolFloat(isLeap(d.Year())),
			boolFloat(working),
			boolFloat(feb29),
		)
	}
	return series.New(t.Dates(), append(t.Columns(), CalendarColumns...), rows)
}

// SlovakHolidays are the Slovak public days off, including Good Friday and
// Easter Monday.
func SlovakHolidays(d time.Time) bool {
	switch m, day := d.Month(), d.Day(); {
	case m == time.January && (day == 1 || day == 6),
		m == time.May && (day == 1 || day == 8),
		m == time.July && day == 5,
		m == time.August && day == 29,
		m == time.September && (day == 1 || day == 15),
		m == time.November && (day == 1 || day == 17),
		m == time.December && day >= 24 && day <= 26:
		return true
	}
	easter := easterSunday(d.Year())
	return sameDay(d, easter.AddDate(0, 0, -2)) || sameDay(d, easter.AddDate(0, 0, 1))
}

// easterSunday uses the anonymous Gregorian algorithm.
func easterSunday(year int) time.Time {
	a := year % 19
	b, c := year/100, year%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
