package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// TransformOptions controls name normalization and date parsing.
type TransformOptions struct {
	Lowercase bool
	Strip     bool
	// DateColumns name columns (after normalization) to parse as dates.
	DateColumns []string
}

// dateLayouts are tried in order for text cells.
var dateLayouts = []string{
	time.RFC3339,
	time.DateOnly,
	time.DateTime,
	"2006/01/02",
	"2006/01/02 15:04:05",
	"2006.01.02",
	"01/02/2006",
	"2006-01",
	"2006/01",
	"20060102",
	"2006年01月02日",
	"2006年1月2日",
}

// excelEpoch is day zero of spreadsheet serial dates.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Transform normalizes column names and parses the declared date columns.
// Unparsable cells become missing. A declared date column that does not exist
// is a ValidationError.
func Transform(t *Table, opts TransformOptions) (*Table, error) {
	if opts.Lowercase || opts.Strip {
		mapping := make(map[string]string, t.NumCols())
		for _, name := range t.Names() {
			mapping[name] = NormalizeName(name, opts.Lowercase, opts.Strip)
		}
		var err error
		if t, err = t.Rename(mapping); err != nil {
			return nil, err
		}
	}

	for _, name := range opts.DateColumns {
		c, ok := t.Column(name)
		if !ok {
			return nil, errors.NewValidationError(name, "declared date column does not exist", nil)
		}
		parsed := ParseDates(c)
		var err error
		if t, err = t.WithColumn(parsed); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NormalizeName applies the configured name normalization.
func NormalizeName(name string, lower, strip bool) string {
	if strip {
		name = strings.TrimSpace(name)
	}
	if lower {
		name = strings.ToLower(name)
	}
	return name
}

// ParseDates converts c to a temporal column. Text cells are matched against
// common layouts; numeric cells are read as yyyymmdd or as spreadsheet serial
// days. Anything else becomes missing.
func ParseDates(c *Column) *Column {
	if c.Type == Time {
		return c
	}
	out := make([]time.Time, c.Len())
	for i := range out {
		if c.Null[i] {
			continue
		}
		var ts time.Time
		var ok bool
		if c.Type == Numeric {
			ts, ok = parseNumericDate(c.Num[i])
		} else {
			ts, ok = ParseDate(c.Str[i])
		}
		if ok {
			out[i] = ts
		}
	}
	return NewTime(c.Name, out)
}

// ParseDate parses s leniently.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return parseNumericDate(v)
	}
	return time.Time{}, false
}

func parseNumericDate(v float64) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return time.Time{}, false
	}
	if v >= 1800 && v <= 2200 && v == math.Trunc(v) {
		return time.Date(int(v), time.January, 1, 0, 0, 0, 0, time.UTC), true
	}
	if v >= 10000101 && v <= 99991231 && v == math.Trunc(v) {
		if ts, err := time.Parse("20060102", strconv.FormatInt(int64(v), 10)); err == nil {
			return ts, true
		}
		return time.Time{}, false
	}
	// 2958465 is 9999-12-31 as a serial day.
	if v < 2958466 {
		days := math.Floor(v)
		secs := math.Round((v - days) * 86400)
		return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), true
	}
	return time.Time{}, false
}
