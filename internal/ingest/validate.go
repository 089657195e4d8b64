package ingest

import (
	"encoding/json"

	"github.com/lox/aqicast/internal/models"
)

const (
	FlagIndexNegative      = "index_negative"
	FlagIndexOutOfRange    = "index_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagTempOutOfRange     = "temp_out_of_range"
)

// maxIndex is the top of the IAQI scale; values above it are reported by
// some stations but are almost always sensor faults.
const maxIndex = 999

var indexKeys = []string{"pm25", "pm10", "o3", "no2", "so2", "co"}

func ValidateReading(r *models.Reading) []string {
	var flags []string

	for _, k := range indexKeys {
		v, ok := r.Value(k)
		if !ok {
			continue
		}
		if v < 0 {
			flags = appendOnce(flags, FlagIndexNegative)
		} else if v > maxIndex {
			flags = appendOnce(flags, FlagIndexOutOfRange)
		}
	}

	if r.Temp.Valid && (r.Temp.Float64 < -50 || r.Temp.Float64 > 50) {
		flags = append(flags, FlagTempOutOfRange)
	}
	if r.Humidity.Valid && (r.Humidity.Float64 < 0 || r.Humidity.Float64 > 100) {
		flags = append(flags, FlagHumidityInvalid)
	}
	if r.Pressure.Valid && (r.Pressure.Float64 < 850 || r.Pressure.Float64 > 1100) {
		flags = append(flags, FlagPressureOutOfRange)
	}

	return flags
}

func appendOnce(flags []string, f string) []string {
	for _, x := range flags {
		if x == f {
			return flags
		}
	}
	return append(flags, f)
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
