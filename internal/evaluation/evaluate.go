package evaluation

import (
	"fmt"
	"math"

	"github.com/lox/aqicast/internal/series"
)

// Result holds metric values per pollutant and forecast day:
// Scores[metric][pollutant][day-1].
type Result struct {
	Days       int                             `json:"days"`
	Windows    int                             `json:"windows"`
	Pollutants []string                        `json:"pollutants"`
	Scores     map[string]map[string][]float64 `json:"scores"`
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Evaluate scores aligned truth and prediction blocks. Every block spans
// prediction*numPredictions days; for each pollutant and day offset the
// values at that offset are gathered across all blocks and scored with
// every registered metric.
func Evaluate(truth, pred []*series.Table, prediction, numPredictions int, pollutants []string) (*Result, error) {
	if prediction <= 0 || numPredictions <= 0 {
		return nil, fmt.Errorf("%w: prediction=%d num_predictions=%d", ErrConfiguration, prediction, numPredictions)
	}
	if len(truth) != len(pred) {
		return nil, fmt.Errorf("%w: %d truth blocks, %d prediction blocks", ErrConfiguration, len(truth), len(pred))
	}
	if len(truth) == 0 {
		return nil, fmt.Errorf("%w: nothing to evaluate", ErrConfiguration)
	}
	if len(pollutants) == 0 {
		return nil, fmt.Errorf("%w: no pollutants", ErrConfiguration)
	}
	days := prediction * numPredictions

	type cols struct{ t, p []int }
	idx := make([]cols, len(truth))
	for k := range truth {
		if truth[k].Len() != days || pred[k].Len() != days {
			return nil, fmt.Errorf("%w: block %d has %d truth and %d predicted days, want %d",
				ErrConfiguration, k, truth[k].Len(), pred[k].Len(), days)
		}
		for _, p := range pollutants {
			tj, ok := truth[k].ColumnIndex(p)
			if !ok {
				return nil, fmt.Errorf("%w: truth block %d lacks pollutant %q", ErrConfiguration, k, p)
			}
			pj, ok := pred[k].ColumnIndex(p)
			if !ok {
				return nil, fmt.Errorf("%w: prediction block %d lacks pollutant %q", ErrConfiguration, k, p)
			}
			idx[k].t = append(idx[k].t, tj)
			idx[k].p = append(idx[k].p, pj)
		}
	}

	res := &Result{
		Days:       days,
		Windows:    len(truth),
		Pollutants: append([]string(nil), pollutants...),
		Scores:     make(map[string]map[string][]float64, len(Registry)),
	}
	for name := range Registry {
		res.Scores[name] = make(map[string][]float64, len(pollutants))
		for _, p := range pollutants {
			res.Scores[name][p] = make([]float64, days)
		}
	}

	yTrue := make([]float64, len(truth))
	yPred := make([]float64, len(truth))
	for pi, p := range pollutants {
		for d := range days {
			for k := range truth {
				yTrue[k] = truth[k].Value(d, idx[k].t[pi])
				yPred[k] = pred[k].Value(d, idx[k].p[pi])
			}
			for name, fn := range Registry {
				v, err := fn(yTrue, yPred)
				if err != nil {
					return nil, fmt.Errorf("%s on %s day %d: %w", name, p, d+1, err)
				}
				res.Scores[name][p][d] = round4(v)
			}
		}
	}
	return res, nil
}

// SelectDay returns metric → pollutant → value for a 1-based forecast day.
func SelectDay(r *Result, day int) (map[string]map[string]float64, error) {
	if day < 1 || day > r.Days {
		return nil, fmt.Errorf("%w: day %d outside 1..%d", ErrConfiguration, day, r.Days)
	}
	out := make(map[string]map[string]float64, len(r.Scores))
	for metric, byPollutant := range r.Scores {
		out[metric] = make(map[string]float64, len(byPollutant))
		for p, values := range byPollutant {
			out[metric][p] = values[day-1]
		}
	}
	return out, nil
}
