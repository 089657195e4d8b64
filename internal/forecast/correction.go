package forecast

import (
	"math"

	"github.com/lox/aqicast/internal/models"
)

const (
	// MaxBiasCorrection caps the IAQI points a correction may shift a value.
	MaxBiasCorrection = 25.0
	minBiasSamples    = 7
	maxFallbackDays   = 14
)

// Correction is the bias applied to one pollutant and lead day, and where it
// came from.
type Correction struct {
	Bias       float64 `json:"bias"`
	DayUsed    int     `json:"day_used"` // -1 when no stats qualified
	Samples    int     `json:"samples"`
	IsFallback bool    `json:"is_fallback"`
}

// Stats is verification stats keyed by pollutant then day of forecast.
type Stats map[string]map[int]models.VerificationStats

// CorrectionFor picks the mean bias for pollutant at dayOfForecast. Without
// enough samples on that day it falls back to the nearest day that has them,
// preferring the shorter lead time on a tie.
func CorrectionFor(stats Stats, pollutant string, dayOfForecast int) Correction {
	byDay := stats[pollutant]
	if byDay == nil {
		return Correction{DayUsed: -1}
	}

	if s, ok := byDay[dayOfForecast]; ok && s.SampleSize >= minBiasSamples {
		return Correction{Bias: capBias(s.MeanBias), DayUsed: dayOfForecast, Samples: s.SampleSize}
	}

	for delta := 1; delta <= maxFallbackDays; delta++ {
		for _, d := range []int{dayOfForecast - delta, dayOfForecast + delta} {
			if d < 1 {
				continue
			}
			if s, ok := byDay[d]; ok && s.SampleSize >= minBiasSamples {
				return Correction{Bias: capBias(s.MeanBias), DayUsed: d, Samples: s.SampleSize, IsFallback: true}
			}
		}
	}
	return Correction{DayUsed: -1}
}

func capBias(b float64) float64 {
	return math.Max(-MaxBiasCorrection, math.Min(MaxBiasCorrection, b))
}

// Corrected returns a copy of f with each IAQI reduced by its bias, since
// bias is forecast minus observation. AQI and dominant pollutant are
// recomputed.
func (f *Forecast) Corrected(stats Stats) *Forecast {
	out := &Forecast{ModelVersion: f.ModelVersion, IssuedAt: f.IssuedAt}
	for _, d := range f.Days {
		day := DayForecast{
			Date:          d.Date,
			DayOfForecast: d.DayOfForecast,
			IAQI:          make(map[string]float64, len(d.IAQI)),
		}
		for name, v := range d.IAQI {
			c := CorrectionFor(stats, name, d.DayOfForecast)
			day.IAQI[name] = math.Round(math.Max(0, v-c.Bias)*10) / 10
		}
		day.AQI, day.Dominant = AQI(day.IAQI)
		out.Days = append(out.Days, day)
	}
	return out
}
