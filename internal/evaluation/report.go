package evaluation

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// ReportRow is one (metric, pollutant) line with a value per forecast day.
type ReportRow struct {
	Metric    string    `json:"metric"`
	Pollutant string    `json:"pollutant"`
	Values    []float64 `json:"values"`
}

// Report is the tabular view of a Result.
type Report struct {
	Days int         `json:"days"`
	Rows []ReportRow `json:"rows"`
}

// NewReport lays out r sorted by metric name, pollutants in evaluation order.
func NewReport(r *Result) *Report {
	rep := &Report{Days: r.Days}
	for _, metric := range sortedKeys(r.Scores) {
		for _, p := range r.Pollutants {
			values, ok := r.Scores[metric][p]
			if !ok {
				continue
			}
			rep.Rows = append(rep.Rows, ReportRow{
				Metric:    metric,
				Pollutant: p,
				Values:    append([]float64(nil), values...),
			})
		}
	}
	return rep
}

// Render writes the report as an aligned text table.
func (r *Report) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{"metric", "pollutant"}
	for d := 1; d <= r.Days; d++ {
		header = append(header, fmt.Sprintf("day%d", d))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")
	for _, row := range r.Rows {
		cells := []string{row.Metric, row.Pollutant}
		for _, v := range row.Values {
			cells = append(cells, fmt.Sprintf("%.4f", v))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t")
	}
	return tw.Flush()
}

func (r *Report) String() string {
	var b strings.Builder
	_ = r.Render(&b)
	return b.String()
}

// Headline reduces a result to one model-selection score: the mean over
// pollutants of metric on the given 1-based day. A day of zero selects the
// last forecast day.
func Headline(r *Result, metric string, day int) (float64, error) {
	if day == 0 {
		day = r.Days
	}
	byPollutant, ok := r.Scores[metric]
	if !ok {
		return 0, fmt.Errorf("%w: unknown metric %q", ErrConfiguration, metric)
	}
	scores, err := SelectDay(r, day)
	if err != nil {
		return 0, err
	}
	if len(byPollutant) == 0 || len(r.Pollutants) == 0 {
		return 0, fmt.Errorf("%w: no pollutants scored", ErrConfiguration)
	}
	var sum float64
	for _, p := range r.Pollutants {
		v, ok := scores[metric][p]
		if !ok {
			return 0, fmt.Errorf("%w: pollutant %q not scored", ErrConfiguration, p)
		}
		sum += v
	}
	return round4(sum / float64(len(r.Pollutants))), nil
}

// HigherIsBetter reports whether larger values of metric indicate a better
// model.
func HigherIsBetter(metric string) bool {
	switch metric {
	case R2, Pearson, Spearman, Willmott, Factor2:
		return true
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
