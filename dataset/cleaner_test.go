package dataset

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

func listingTable() *Table {
	nan := math.NaN()
	return MustTable(
		NewNumeric("area", []float64{80, 90, 100, nan, 120, 130, 140, 150, 80, 90}),
		NewText("city", []string{"a", "b", "c", "d", "e", "f", "g", "h", "a", "b"}, nil),
		NewNumeric("price", []float64{1, 2, 3, 4, 5, 6, 7, 8, 1, 2}),
	)
}

func TestCleanDedupeAndFill(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	opts := CleanOptions{
		DropDuplicates:    true,
		MissingPolicy:     MissingFill,
		NumericImputation: ImputeMean,
		OutlierMethod:     OutliersNone,
		Logger:            logger,
	}

	out, report, err := Clean(listingTable(), opts)
	require.NoError(t, err)

	assert.Equal(t, 8, out.NumRows())
	assert.Equal(t, 0, out.CountMissing())
	assert.Equal(t, 2, report.DuplicatesRemoved)
	assert.Equal(t, 1, report.CellsImputed)
	assert.Equal(t, 10, report.RowsIn)
	assert.Equal(t, 8, report.RowsOut)

	area, _ := out.Column("area")
	assert.InDelta(t, 810.0/7.0, area.Num[3], 1e-12)

	assert.True(t, logger.ContainsField(log.RowsRemovedKey, float64(2)))
	assert.True(t, logger.ContainsMessage("missing values imputed"))
}

func TestCleanDropMissing(t *testing.T) {
	out, report, err := Clean(listingTable(), CleanOptions{MissingPolicy: MissingDrop})
	require.NoError(t, err)
	assert.Equal(t, 9, out.NumRows())
	assert.Equal(t, 1, report.MissingRowsRemoved)
	assert.Equal(t, 0, out.CountMissing())
}

func TestCleanOutliers(t *testing.T) {
	tens := make([]float64, 20)
	for i := range tens {
		tens[i] = 10
	}

	tests := []struct {
		name    string
		values  []float64
		opts    CleanOptions
		wantOut []float64
	}{
		{
			name:    "iqr drops far value",
			values:  []float64{10, 12, 11, 13, 1000},
			opts:    CleanOptions{OutlierMethod: OutliersIQR, IQRMultiplier: 1.5},
			wantOut: []float64{10, 12, 11, 13},
		},
		{
			name:    "zscore drops far value",
			values:  append(append([]float64(nil), tens...), 1000),
			opts:    CleanOptions{OutlierMethod: OutliersZScore, ZScoreThreshold: 3},
			wantOut: tens,
		},
		{
			name:    "zscore skips constant column",
			values:  []float64{5, 5, 5},
			opts:    CleanOptions{OutlierMethod: OutliersZScore, ZScoreThreshold: 3},
			wantOut: []float64{5, 5, 5},
		},
		{
			name:    "missing values survive",
			values:  []float64{10, math.NaN(), 11, 12, 13, 1000},
			opts:    CleanOptions{OutlierMethod: OutliersIQR, IQRMultiplier: 1.5},
			wantOut: []float64{10, math.NaN(), 11, 12, 13},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := Clean(MustTable(NewNumeric("v", tt.values)), tt.opts)
			require.NoError(t, err)
			c, _ := out.Column("v")
			require.Len(t, c.Num, len(tt.wantOut))
			for i, want := range tt.wantOut {
				if math.IsNaN(want) {
					assert.True(t, c.Null[i])
					continue
				}
				assert.Equal(t, want, c.Num[i])
			}
		})
	}
}

func TestCleanRejectsUnknownMethods(t *testing.T) {
	_, _, err := Clean(listingTable(), CleanOptions{MissingPolicy: "guess"})
	assert.True(t, errors.IsConfiguration(err))

	_, _, err = Clean(listingTable(), CleanOptions{OutlierMethod: "isolation_forest"})
	assert.True(t, errors.IsConfiguration(err))

	_, _, err = Clean(listingTable(), CleanOptions{MissingPolicy: MissingFill, NumericImputation: "knn"})
	assert.True(t, errors.IsConfiguration(err))
}

func TestFillMissingModeTies(t *testing.T) {
	d1 := time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	tbl := MustTable(
		NewNumeric("rooms", []float64{3, 2, 3, 2, math.NaN()}),
		NewText("city", []string{"b", "a", "b", "a", ""}, []bool{false, false, false, false, true}),
		NewTime("listed", []time.Time{d1, d2, d1, d2, {}}),
	)

	out, filled, err := FillMissing(tbl, CleanOptions{NumericImputation: ImputeMode, CategoricalImputation: ImputeMode})
	require.NoError(t, err)
	assert.Equal(t, 3, filled)

	rooms, _ := out.Column("rooms")
	city, _ := out.Column("city")
	listed, _ := out.Column("listed")
	assert.Equal(t, 2.0, rooms.Num[4])
	assert.Equal(t, "a", city.Str[4])
	assert.True(t, listed.Time[4].Equal(d2))

	// input is not modified
	assert.Equal(t, 3, tbl.CountMissing())
}

func TestFillMissingConstantAndMedian(t *testing.T) {
	tbl := MustTable(
		NewNumeric("area", []float64{10, 20, 90, math.NaN()}),
		NewText("decor", []string{"fine", "", "", "raw"}, []bool{false, true, true, false}),
	)
	out, filled, err := FillMissing(tbl, CleanOptions{
		NumericImputation:     ImputeMedian,
		CategoricalImputation: ImputeConstant,
		ConstantFill:          "unknown",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, filled)

	area, _ := out.Column("area")
	decor, _ := out.Column("decor")
	assert.Equal(t, 20.0, area.Num[3])
	assert.Equal(t, []string{"fine", "unknown", "unknown", "raw"}, decor.Str)
}

func TestValidateRanges(t *testing.T) {
	tbl := MustTable(
		NewNumeric("area", []float64{10, 50, 600, math.NaN()}),
		NewNumeric("price", []float64{1, 2, 3, 4}),
	)

	out, removed, err := ValidateRanges(tbl, map[string]RangeRule{"area": {Min: 30, Max: 500}})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	price, _ := out.Column("price")
	assert.Equal(t, []float64{2, 4}, price.Num)

	_, _, err = ValidateRanges(tbl, map[string]RangeRule{"rooms": {Min: 1, Max: 9}})
	assert.True(t, errors.IsValidation(err))
}

func TestStandardizeText(t *testing.T) {
	tbl := MustTable(NewText("district", []string{"  Yue  Hu   Qu ", "YUHU"}, nil))
	out, err := StandardizeText(tbl)
	require.NoError(t, err)
	c, _ := out.Column("district")
	assert.Equal(t, []string{"yue hu qu", "yuhu"}, c.Str)
}
