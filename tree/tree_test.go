package tree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// y は x0 だけで決まる階段関数。x1 はノイズ列。
func stepData() (*mat.Dense, *mat.VecDense) {
	X := mat.NewDense(8, 2, []float64{
		1, 5,
		2, 3,
		3, 8,
		4, 1,
		5, 7,
		6, 2,
		7, 6,
		8, 4,
	})
	y := mat.NewVecDense(8, []float64{10, 10, 10, 10, 30, 30, 50, 50})
	return X, y
}

func TestRegressorFitsStepFunction(t *testing.T) {
	X, y := stepData()
	m := NewRegressor()
	require.NoError(t, m.Fit(X, y))

	pred, err := m.Predict(X)
	require.NoError(t, err)
	assert.InDeltaSlice(t, y.RawVector().Data, pred.RawVector().Data, 1e-12)

	assert.Equal(t, 3, m.Tree.NumLeaves())
	assert.Equal(t, 2, m.Tree.Depth())
	assert.Equal(t, 0, m.Tree.Nodes[0].Feature)
	assert.Equal(t, 4.5, m.Tree.Nodes[0].Threshold)

	imp := m.FeatureImportances()
	assert.InDeltaSlice(t, []float64{1, 0}, imp, 1e-12)
}

func TestRegressorLimits(t *testing.T) {
	X, y := stepData()

	tests := []struct {
		name   string
		params model.Params
		leaves int
	}{
		{"stump", model.Params{"max_depth": 1}, 2},
		{"unlimited depth", model.Params{"max_depth": nil}, 3},
		{"large leaves", model.Params{"min_samples_leaf": 4}, 2},
		{"no split allowed", model.Params{"min_samples_split": 9}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewRegressor()
			require.NoError(t, m.SetParams(tt.params))
			require.NoError(t, m.Fit(X, y))
			assert.Equal(t, tt.leaves, m.Tree.NumLeaves())
		})
	}

	stump := NewRegressor()
	require.NoError(t, stump.SetParams(model.Params{"max_depth": 1}))
	require.NoError(t, stump.Fit(X, y))
	pred, err := stump.Predict(mat.NewDense(2, 2, []float64{0, 0, 9, 0}))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 40}, pred.RawVector().Data)
}

func TestRegressorSetParamsValidation(t *testing.T) {
	tests := []model.Params{
		{"min_samples_split": 1},
		{"min_samples_leaf": 0},
		{"max_features": 1.5},
		{"max_depth": -1},
		{"criterion": "gini"},
	}
	for _, p := range tests {
		m := NewRegressor()
		err := m.SetParams(p)
		assert.True(t, errors.IsValidation(err), "%v", p)
		assert.Equal(t, NewRegressor().Params(), m.Params(), "rejected params leave the model unchanged")
	}
}

func TestRegressorPredictErrors(t *testing.T) {
	m := NewRegressor()
	_, err := m.Predict(mat.NewDense(1, 2, nil))
	assert.ErrorIs(t, err, errors.ErrNotFitted)

	X, y := stepData()
	require.NoError(t, m.Fit(X, y))
	_, err = m.Predict(mat.NewDense(1, 3, nil))
	assert.True(t, errors.IsValidation(err))
}

func TestGrowFeatureSubsampleIsSeeded(t *testing.T) {
	X, y := stepData()
	rows := []int{0, 1, 2, 3, 4, 5, 6, 7}
	cfg := Config{MinSamplesSplit: 2, MinSamplesLeaf: 1, MaxFeatures: 0.5}

	a := NewRegressor()
	a.Config = cfg
	b := NewRegressor()
	b.Config = cfg
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.Tree, b.Tree)

	_, err := Grow(X, y.RawVector().Data, nil, cfg, nil)
	assert.ErrorIs(t, err, errors.ErrEmptyData)

	// duplicated rows act as sample weights
	tr, err := Grow(X, y.RawVector().Data, append(rows, 0, 0), Config{MinSamplesSplit: 2, MinSamplesLeaf: 1, MaxDepth: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, tr.Nodes[0].Samples)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{0.25, 0.75}, Normalize([]float64{1, 3}))
	assert.Equal(t, []float64{0, 0}, Normalize([]float64{0, 0}))
}

func TestRegressorGobRoundTrip(t *testing.T) {
	X, y := stepData()
	m := NewRegressor()
	require.NoError(t, m.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(m, &buf))
	var got Regressor
	require.NoError(t, model.LoadModelFromReader(&got, &buf))

	want, _ := m.Predict(X)
	pred, err := got.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want.RawVector().Data, pred.RawVector().Data)
}
