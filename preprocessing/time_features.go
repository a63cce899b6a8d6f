package preprocessing

import (
	"math"
	"time"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/stats"
	"github.com/YuminosukeSato/valuation/dataset"
)

// timeParts are the suffixes derived from each date column, in output order.
var timeParts = []string{"year", "month", "day", "weekday", "quarter", "season"}

// TimeFeatures derives calendar columns c_year, c_month, c_day, c_weekday
// (Monday = 0), c_quarter and c_season (1 = Dec-Feb ... 4 = Sep-Nov) from each
// date column c. The source column is kept.
//
// Missing dates, including those that failed to parse, take the calendar of
// the median date seen at fit. A column with no dates at fit has no fill and
// its missing dates stay missing.
type TimeFeatures struct {
	model.StateManager
	Columns  []string
	Features []string
	// Fill は Features と同じ順の補完日付。ゼロ値は補完なし
	Fill []time.Time
}

func NewTimeFeatures(columns ...string) *TimeFeatures {
	return &TimeFeatures{Columns: columns}
}

func (f *TimeFeatures) Fit(t *dataset.Table, _ []float64) error {
	cols, err := resolveColumns(t, f.Columns, dataset.Time)
	if err != nil {
		return err
	}
	f.Features = cols
	f.Fill = make([]time.Time, len(cols))
	for k, n := range cols {
		c, _ := t.Column(n)
		secs := make([]float64, 0, c.Len())
		for i, ts := range c.Time {
			if !c.Null[i] {
				secs = append(secs, float64(ts.Unix()))
			}
		}
		if len(secs) > 0 {
			f.Fill[k] = time.Unix(int64(math.Round(stats.Median(secs))), 0).UTC()
		}
	}
	f.SetFitted(len(cols), t.NumRows())
	return nil
}

func (f *TimeFeatures) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := f.RequireFitted("TimeFeatures", "Transform"); err != nil {
		return nil, err
	}
	out := t
	for j, n := range f.Features {
		var fill [6]float64
		for k := range fill {
			fill[k] = math.NaN()
		}
		if j < len(f.Fill) && !f.Fill[j].IsZero() {
			fill = calendar(f.Fill[j])
		}
		if err := requireType(t, n, dataset.Time); err != nil {
			return nil, err
		}
		c, _ := t.Column(n)
		parts := make([][]float64, len(timeParts))
		for k := range parts {
			parts[k] = make([]float64, c.Len())
		}
		for i, ts := range c.Time {
			vals := fill
			if !c.Null[i] {
				vals = calendar(ts)
			}
			for k := range parts {
				parts[k][i] = vals[k]
			}
		}
		for k, suffix := range timeParts {
			var err error
			if out, err = out.WithColumn(dataset.NewNumeric(n+"_"+suffix, parts[k])); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func calendar(ts time.Time) [6]float64 {
	month := int(ts.Month())
	return [6]float64{
		float64(ts.Year()),
		float64(month),
		float64(ts.Day()),
		float64((int(ts.Weekday()) + 6) % 7),
		float64((month-1)/3 + 1),
		float64(month%12/3 + 1),
	}
}
