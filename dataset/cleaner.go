package dataset

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/YuminosukeSato/valuation/core/stats"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// MissingPolicy decides what happens to rows with missing cells.
type MissingPolicy string

const (
	MissingDrop MissingPolicy = "drop"
	MissingFill MissingPolicy = "fill"
)

// Imputation is the statistic used to fill a column.
type Imputation string

const (
	ImputeMean     Imputation = "mean"
	ImputeMedian   Imputation = "median"
	ImputeMode     Imputation = "mode"
	ImputeConstant Imputation = "constant"
)

// OutlierMethod selects the per-column outlier rule.
type OutlierMethod string

const (
	OutliersNone   OutlierMethod = "none"
	OutliersIQR    OutlierMethod = "iqr"
	OutliersZScore OutlierMethod = "zscore"
)

// CleanOptions toggles each cleaning step. The zero value does nothing.
type CleanOptions struct {
	DropDuplicates bool

	// MissingPolicy empty leaves missing cells alone.
	MissingPolicy         MissingPolicy
	NumericImputation     Imputation
	CategoricalImputation Imputation
	ConstantFill          string

	OutlierMethod   OutlierMethod
	IQRMultiplier   float64
	ZScoreThreshold float64
	// Columns restricts outlier filtering. Empty means every numeric column.
	Columns []string

	Logger log.Logger
}

// DefaultCleanOptions mirrors the default configuration.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		DropDuplicates:        true,
		MissingPolicy:         MissingFill,
		NumericImputation:     ImputeMean,
		CategoricalImputation: ImputeMode,
		ConstantFill:          "missing",
		OutlierMethod:         OutliersIQR,
		IQRMultiplier:         1.5,
		ZScoreThreshold:       3.0,
	}
}

// CleanReport records what each step removed or filled.
type CleanReport struct {
	RowsIn             int            `json:"rows_in"`
	DuplicatesRemoved  int            `json:"duplicates_removed"`
	MissingRowsRemoved int            `json:"missing_rows_removed"`
	CellsImputed       int            `json:"cells_imputed"`
	OutliersRemoved    map[string]int `json:"outliers_removed"`
	RangeRowsRemoved   int            `json:"range_rows_removed"`
	RowsOut            int            `json:"rows_out"`
}

// Clean deduplicates, handles missing values and removes outliers, in that
// order. Outlier bounds for each column are computed on the table left over
// by the previous column.
func Clean(t *Table, opts CleanOptions) (*Table, *CleanReport, error) {
	logger := log.OrDefault(opts.Logger, "cleaner").With(log.OperationKey, log.OperationClean)
	report := &CleanReport{RowsIn: t.NumRows(), OutliersRemoved: map[string]int{}}

	if opts.DropDuplicates {
		before := t.NumRows()
		t = DropDuplicates(t)
		report.DuplicatesRemoved = before - t.NumRows()
		logger.Info("duplicates removed", log.RowsRemovedKey, report.DuplicatesRemoved, log.SamplesKey, t.NumRows())
	}

	switch opts.MissingPolicy {
	case "":
	case MissingDrop:
		before := t.NumRows()
		t = DropMissing(t)
		report.MissingRowsRemoved = before - t.NumRows()
		logger.Info("rows with missing values removed", log.RowsRemovedKey, report.MissingRowsRemoved)
	case MissingFill:
		var filled int
		var err error
		t, filled, err = FillMissing(t, opts)
		if err != nil {
			return nil, nil, err
		}
		report.CellsImputed = filled
		logger.Info("missing values imputed", "data.cells_imputed", filled)
	default:
		return nil, nil, errors.NewConfigurationError("handle_missing", string(opts.MissingPolicy), "drop", "fill")
	}

	switch opts.OutlierMethod {
	case "", OutliersNone:
	case OutliersIQR, OutliersZScore:
		cols := opts.Columns
		if len(cols) == 0 {
			cols = t.NumericColumns()
		}
		for _, name := range cols {
			c, err := t.RequireColumn(name)
			if err != nil {
				return nil, nil, err
			}
			if c.Type != Numeric {
				continue
			}
			lower, upper, ok := outlierBounds(c, opts)
			if !ok {
				continue
			}
			before := t.NumRows()
			t = filterRows(t, func(i int) bool {
				return c.Null[i] || (c.Num[i] >= lower && c.Num[i] <= upper)
			})
			removed := before - t.NumRows()
			report.OutliersRemoved[name] = removed
			logger.Info("outliers removed", log.ColumnKey, name, log.MethodKey, string(opts.OutlierMethod),
				log.RowsRemovedKey, removed)
		}
	default:
		return nil, nil, errors.NewConfigurationError("outlier_method", string(opts.OutlierMethod), "iqr", "zscore", "none")
	}

	report.RowsOut = t.NumRows()
	return t, report, nil
}

func outlierBounds(c *Column, opts CleanOptions) (lower, upper float64, ok bool) {
	values := c.NonNull()
	if len(values) == 0 {
		return 0, 0, false
	}
	if opts.OutlierMethod == OutliersIQR {
		k := opts.IQRMultiplier
		if k <= 0 {
			k = 1.5
		}
		sort.Float64s(values)
		q1 := stats.QuantileSorted(values, 0.25)
		q3 := stats.QuantileSorted(values, 0.75)
		iqr := q3 - q1
		return q1 - k*iqr, q3 + k*iqr, true
	}

	threshold := opts.ZScoreThreshold
	if threshold <= 0 {
		threshold = 3
	}
	mean, std := stats.MeanStd(values)
	if std == 0 || math.IsNaN(std) {
		return 0, 0, false
	}
	return mean - threshold*std, mean + threshold*std, true
}

func filterRows(t *Table, keep func(i int) bool) *Table {
	rows := make([]int, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	if len(rows) == t.NumRows() {
		return t
	}
	return t.Take(rows)
}

// DropDuplicates keeps the first occurrence of every fully identical row.
func DropDuplicates(t *Table) *Table {
	seen := make(map[string]struct{}, t.NumRows())
	return filterRows(t, func(i int) bool {
		key := t.rowKey(i)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		return true
	})
}

// DropMissing removes rows missing a value in any of cols, or in any column
// when cols is empty.
func DropMissing(t *Table, cols ...string) *Table {
	if len(cols) == 0 {
		return filterRows(t, func(i int) bool { return !t.RowHasMissing(i) })
	}
	return filterRows(t, func(i int) bool {
		for _, name := range cols {
			if t.IsMissing(i, name) {
				return false
			}
		}
		return true
	})
}

// FillMissing imputes every column independently and returns the number of
// cells filled. Columns with no present value are left as they are.
func FillMissing(t *Table, opts CleanOptions) (*Table, int, error) {
	filled := 0
	out := t
	for _, c := range t.Columns() {
		nulls := c.NullCount()
		if nulls == 0 {
			continue
		}
		var fixed *Column
		switch c.Type {
		case Numeric:
			values := c.NonNull()
			if len(values) == 0 {
				continue
			}
			var v float64
			switch opts.NumericImputation {
			case ImputeMean, "":
				v = stats.Mean(values)
			case ImputeMedian:
				v = stats.Median(values)
			case ImputeMode:
				v = stats.ModeFloat(values)
			default:
				return nil, 0, errors.NewConfigurationError("numeric_imputation", string(opts.NumericImputation), "mean", "median", "mode")
			}
			fixed = c.Clone()
			for i := range fixed.Num {
				if fixed.Null[i] {
					fixed.Num[i], fixed.Null[i] = v, false
				}
			}
		case Text:
			var v string
			switch opts.CategoricalImputation {
			case ImputeMode, "":
				mode, ok := stats.ModeString(c.NonNullStrings())
				if !ok {
					continue
				}
				v = mode
			case ImputeConstant:
				v = opts.ConstantFill
				if v == "" {
					v = "missing"
				}
			default:
				return nil, 0, errors.NewConfigurationError("categorical_imputation", string(opts.CategoricalImputation), "mode", "constant")
			}
			fixed = c.Clone()
			for i := range fixed.Str {
				if fixed.Null[i] {
					fixed.Str[i], fixed.Null[i] = v, false
				}
			}
		case Time:
			v, ok := modeTime(c)
			if !ok {
				continue
			}
			fixed = c.Clone()
			for i := range fixed.Time {
				if fixed.Null[i] {
					fixed.Time[i], fixed.Null[i] = v, false
				}
			}
		}

		var err error
		if out, err = out.WithColumn(fixed); err != nil {
			return nil, 0, err
		}
		filled += nulls
	}
	return out, filled, nil
}

func modeTime(c *Column) (time.Time, bool) {
	counts := make(map[int64]int)
	for i, ts := range c.Time {
		if !c.Null[i] {
			counts[ts.UnixNano()]++
		}
	}
	if len(counts) == 0 {
		return time.Time{}, false
	}
	var best int64
	bestCount := 0
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < best) {
			best, bestCount = k, n
		}
	}
	return time.Unix(0, best).UTC(), true
}

// RangeRule bounds the valid values of one column.
type RangeRule struct {
	Min, Max float64
}

// ValidateRanges drops rows whose value in a ruled column falls outside its
// [Min, Max]. Missing values are kept. Rules are applied in column name
// order.
func ValidateRanges(t *Table, rules map[string]RangeRule) (*Table, int, error) {
	names := make([]string, 0, len(rules))
	for n := range rules {
		names = append(names, n)
	}
	sort.Strings(names)

	before := t.NumRows()
	for _, name := range names {
		c, err := t.RequireColumn(name)
		if err != nil {
			return nil, 0, err
		}
		if c.Type != Numeric {
			return nil, 0, errors.NewValidationError(name, "range rule on non-numeric column", c.Type.String())
		}
		r := rules[name]
		t = filterRows(t, func(i int) bool {
			return c.Null[i] || (c.Num[i] >= r.Min && c.Num[i] <= r.Max)
		})
	}
	return t, before - t.NumRows(), nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// StandardizeText trims, collapses internal whitespace and lowercases the
// given text columns. Empty cols means every text column.
func StandardizeText(t *Table, cols ...string) (*Table, error) {
	if len(cols) == 0 {
		cols = t.TextColumns()
	}
	out := t
	for _, name := range cols {
		c, err := t.RequireColumn(name)
		if err != nil {
			return nil, err
		}
		if c.Type != Text {
			continue
		}
		fixed := c.Clone()
		for i, s := range fixed.Str {
			if !fixed.Null[i] {
				fixed.Str[i] = strings.ToLower(whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " "))
			}
		}
		if out, err = out.WithColumn(fixed); err != nil {
			return nil, err
		}
	}
	return out, nil
}
