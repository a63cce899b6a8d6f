package dataset

import (
	"math"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

func hundredRows() *Table {
	return MustTable(
		NewNumeric("area", seq(100)),
		NewNumeric("price", seq(100)),
	)
}

func TestSplitSizesAndDisjointness(t *testing.T) {
	part, err := Split(hundredRows(), "price", SplitOptions{TestSize: 0.2, ValSize: 0.1, Seed: 42})
	require.NoError(t, err)
	require.NotNil(t, part.Validation)

	assert.Equal(t, 70, part.Train.Len())
	assert.Equal(t, 10, part.Validation.Len())
	assert.Equal(t, 20, part.Test.Len())
	assert.False(t, part.Train.X.HasColumn("price"))

	all := append(append(append([]int(nil), part.TrainIdx...), part.ValIdx...), part.TestIdx...)
	sort.Ints(all)
	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("partitions do not cover every row exactly once (-want +got):\n%s", diff)
	}

	// X and y stay row-aligned
	area, _ := part.Test.X.Column("area")
	assert.Equal(t, area.Num, part.Test.Y)
}

func TestSplitIsDeterministic(t *testing.T) {
	opts := SplitOptions{TestSize: 0.25, ValSize: 0.15, Seed: 7}
	a, err := Split(hundredRows(), "price", opts)
	require.NoError(t, err)
	b, err := Split(hundredRows(), "price", opts)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(a.TrainIdx, b.TrainIdx))
	assert.Empty(t, cmp.Diff(a.ValIdx, b.ValIdx))
	assert.Empty(t, cmp.Diff(a.TestIdx, b.TestIdx))

	c, err := Split(hundredRows(), "price", SplitOptions{TestSize: 0.25, ValSize: 0.15, Seed: 8})
	require.NoError(t, err)
	assert.NotEqual(t, a.TestIdx, c.TestIdx)
}

func TestSplitWithoutValidation(t *testing.T) {
	part, err := Split(hundredRows(), "price", SplitOptions{TestSize: 0.2, Seed: 42})
	require.NoError(t, err)
	assert.Nil(t, part.Validation)
	assert.Nil(t, part.ValIdx)
	assert.Equal(t, 80, part.Train.Len())
	assert.Equal(t, 20, part.Test.Len())
}

func TestSplitRoundsTestUp(t *testing.T) {
	tbl := MustTable(NewNumeric("area", seq(7)), NewNumeric("price", seq(7)))
	part, err := Split(tbl, "price", SplitOptions{TestSize: 0.2, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, part.Test.Len())
	assert.Equal(t, 5, part.Train.Len())
}

func TestSplitRejects(t *testing.T) {
	withGap := MustTable(NewNumeric("area", []float64{1, 2}), NewNumeric("price", []float64{1, math.NaN()}))
	textTarget := MustTable(NewText("price", []string{"a", "b"}, nil))

	tests := []struct {
		name   string
		tbl    *Table
		target string
		opts   SplitOptions
	}{
		{"zero test size", hundredRows(), "price", SplitOptions{TestSize: 0}},
		{"whole test size", hundredRows(), "price", SplitOptions{TestSize: 1}},
		{"fractions sum to one", hundredRows(), "price", SplitOptions{TestSize: 0.5, ValSize: 0.5}},
		{"negative validation", hundredRows(), "price", SplitOptions{TestSize: 0.2, ValSize: -0.1}},
		{"unknown target", hundredRows(), "rent", SplitOptions{TestSize: 0.2}},
		{"missing target values", withGap, "price", SplitOptions{TestSize: 0.5}},
		{"text target", textTarget, "price", SplitOptions{TestSize: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split(tt.tbl, tt.target, tt.opts)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}
