package models

import (
	"database/sql"
	"time"
)

// Pollutants are the IAQI columns forecast by default. Overall AQI is the
// maximum across them.
var Pollutants = []string{"pm25", "pm10", "no2", "so2", "co"}

type Station struct {
	StationID string // WAQI feed path, e.g. "slovakia/poprad/zeleznicna"
	Name      string
	Latitude  float64
	Longitude float64
	Elevation float64
	Timezone  string
}

// Reading is one IAQI sample. Live feed readings are hourly; archive rows
// are daily and stamped at local midnight.
type Reading struct {
	ID           int64
	StationID    string
	ObservedAt   time.Time
	Source       string // "waqi" or "archive"
	PM25         sql.NullFloat64
	PM10         sql.NullFloat64
	O3           sql.NullFloat64
	NO2          sql.NullFloat64
	SO2          sql.NullFloat64
	CO           sql.NullFloat64
	Temp         sql.NullFloat64
	Humidity     sql.NullFloat64
	Pressure     sql.NullFloat64
	Wind         sql.NullFloat64
	Dew          sql.NullFloat64
	QualityFlags string
	RawJSON      string
	CreatedAt    time.Time
}

// Value returns the reading's value for a WAQI IAQI key.
func (r Reading) Value(name string) (float64, bool) {
	var v sql.NullFloat64
	switch name {
	case "pm25":
		v = r.PM25
	case "pm10":
		v = r.PM10
	case "o3":
		v = r.O3
	case "no2":
		v = r.NO2
	case "so2":
		v = r.SO2
	case "co":
		v = r.CO
	case "t":
		v = r.Temp
	case "h":
		v = r.Humidity
	case "p":
		v = r.Pressure
	case "w":
		v = r.Wind
	case "dew":
		v = r.Dew
	}
	return v.Float64, v.Valid
}

// Set stores v under a WAQI IAQI key and reports whether the key is known.
func (r *Reading) Set(name string, v float64) bool {
	nv := sql.NullFloat64{Float64: v, Valid: true}
	switch name {
	case "pm25":
		r.PM25 = nv
	case "pm10":
		r.PM10 = nv
	case "o3":
		r.O3 = nv
	case "no2":
		r.NO2 = nv
	case "so2":
		r.SO2 = nv
	case "co":
		r.CO = nv
	case "t":
		r.Temp = nv
	case "h":
		r.Humidity = nv
	case "p":
		r.Pressure = nv
	case "w":
		r.Wind = nv
	case "dew":
		r.Dew = nv
	default:
		return false
	}
	return true
}

// WeatherColumns are the daily weather variables merged into the feature
// table, named after their meteostat equivalents.
var WeatherColumns = []string{"tavg", "tmin", "tmax", "prcp", "snow", "wspd", "wpgt", "pres"}

type DailyWeather struct {
	Date time.Time
	Tavg sql.NullFloat64
	Tmin sql.NullFloat64
	Tmax sql.NullFloat64
	Prcp sql.NullFloat64
	Snow sql.NullFloat64
	Wspd sql.NullFloat64
	Wpgt sql.NullFloat64
	Pres sql.NullFloat64
}

func (w DailyWeather) Value(name string) (float64, bool) {
	var v sql.NullFloat64
	switch name {
	case "tavg":
		v = w.Tavg
	case "tmin":
		v = w.Tmin
	case "tmax":
		v = w.Tmax
	case "prcp":
		v = w.Prcp
	case "snow":
		v = w.Snow
	case "wspd":
		v = w.Wspd
	case "wpgt":
		v = w.Wpgt
	case "pres":
		v = w.Pres
	}
	return v.Float64, v.Valid
}

// ModelVersion is one trained model in the registry together with everything
// needed to run it: window sizes, column layout and the fitted scaler.
type ModelVersion struct {
	Version          int
	RunID            string
	CreatedAt        time.Time
	HistoricalWindow int
	PredictionWindow int
	NumPredictions   int
	Columns          []string
	Pollutants       []string
	Metric           string
	Score            float64
	ReportJSON       string
	Scaler           []byte
	Model            []byte
	Deployed         bool
}

// IssuedForecast is one pollutant value of a served forecast.
type IssuedForecast struct {
	ID            int64
	ModelVersion  int
	IssuedAt      time.Time
	ValidDate     time.Time
	DayOfForecast int
	Pollutant     string
	Value         float64
}

type ForecastVerification struct {
	ID            int64
	ForecastID    int64
	ValidDate     time.Time
	DayOfForecast int
	Pollutant     string
	Forecast      float64
	Actual        float64
	Bias          float64
	CreatedAt     time.Time
}

// VerificationStats summarizes verified forecasts for one pollutant and
// forecast day.
type VerificationStats struct {
	Pollutant     string
	DayOfForecast int
	WindowDays    int
	SampleSize    int
	MeanBias      float64
	MAE           float64
	RMSE          float64
	UpdatedAt     time.Time
}
