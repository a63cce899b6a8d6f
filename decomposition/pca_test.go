package decomposition

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// 点はほぼ直線 b = 2a 上にある
func lineTable() *dataset.Table {
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{2.1, 3.9, 6.1, 7.9, 10.1, 11.9}
	city := []string{"x", "y", "x", "y", "x", "y"}
	return dataset.MustTable(
		dataset.NewNumeric("a", a),
		dataset.NewNumeric("b", b),
		dataset.NewText("city", city, nil),
	)
}

func TestNewPCA(t *testing.T) {
	tests := []struct {
		n       float64
		wantErr bool
		k       int
		ratio   float64
	}{
		{n: 3, k: 3},
		{n: 0.95, ratio: 0.95},
		{n: 1.5, wantErr: true},
		{n: 0, wantErr: true},
		{n: -2, wantErr: true},
	}
	for _, tt := range tests {
		p, err := NewPCA(tt.n)
		if tt.wantErr {
			assert.True(t, errors.IsValidation(err), "n=%v", tt.n)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.k, p.NComponents)
		assert.Equal(t, tt.ratio, p.VarianceRatio)
	}
}

func TestPCAFitTransform(t *testing.T) {
	tbl := lineTable()
	p, err := NewPCA(0.9)
	require.NoError(t, err)
	require.NoError(t, p.Fit(tbl, nil))

	require.Len(t, p.Components, 1, "the first component already explains over 90%")
	assert.Greater(t, p.ExplainedVarianceRatio[0], 0.99)
	assert.InDelta(t, 1/math.Sqrt(5), p.Components[0][0], 0.01)
	assert.InDelta(t, 2/math.Sqrt(5), p.Components[0][1], 0.01)
	assert.InDeltaSlice(t, []float64{3.5, 7}, p.Mean, 1e-12)

	out, err := p.Transform(tbl)
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "pca_component_1"}, out.Names())

	col, _ := out.Column("pca_component_1")
	var sum float64
	for _, v := range col.Num {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-9, "scores of the training data are centered")
	assert.Less(t, col.Num[0], col.Num[5], "direction is oriented toward the positive axis")
}

func TestPCAComponentCount(t *testing.T) {
	tbl := lineTable()

	all := &PCA{}
	require.NoError(t, all.Fit(tbl, nil))
	assert.Len(t, all.Components, 2)
	assert.InDelta(t, 1.0, all.TotalExplainedRatio(), 1e-12)

	capped := &PCA{NComponents: 5}
	require.NoError(t, capped.Fit(tbl, nil))
	assert.Len(t, capped.Components, 2)

	strict := &PCA{VarianceRatio: 0.99999999}
	require.NoError(t, strict.Fit(tbl, nil))
	assert.Len(t, strict.Components, 2)
}

func TestPCAErrors(t *testing.T) {
	p := &PCA{NComponents: 1}
	_, err := p.Transform(lineTable())
	assert.ErrorIs(t, err, errors.ErrNotFitted)

	require.NoError(t, p.Fit(lineTable(), nil))
	_, err = p.Transform(lineTable().Drop("b"))
	assert.True(t, errors.IsValidation(err))

	one := lineTable().Take([]int{0})
	assert.True(t, errors.IsValidation((&PCA{}).Fit(one, nil)))
}

func TestPCAGobRoundTrip(t *testing.T) {
	p := &PCA{NComponents: 1}
	require.NoError(t, p.Fit(lineTable(), nil))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(p, &buf))
	var got PCA
	require.NoError(t, model.LoadModelFromReader(&got, &buf))

	want, err := p.Transform(lineTable())
	require.NoError(t, err)
	out, err := got.Transform(lineTable())
	require.NoError(t, err)
	assert.True(t, want.Equal(out))
}
