package lightgbm

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/metrics"
	"github.com/YuminosukeSato/valuation/models"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// y = 4·x0 − 2·x1² with x2 constant.
func regressionData(n int) (*mat.Dense, *mat.VecDense) {
	X := mat.NewDense(n, 3, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x0 := float64(i%17) / 17
		x1 := float64((i*5)%23)/23*2 - 1
		X.Set(i, 0, x0)
		X.Set(i, 1, x1)
		X.Set(i, 2, 1)
		y.SetVec(i, 4*x0-2*x1*x1)
	}
	return X, y
}

func TestFindBinBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		maxBin int
		want   []float64
	}{
		{"few unique values", []float64{3, 1, 2, 1}, 255, []float64{1.5, 2.5, math.Inf(1)}},
		{"constant", []float64{7, 7}, 255, []float64{math.Inf(1)}},
		{"equal frequency", []float64{1, 2, 3, 4, 5, 6}, 3, []float64{2.5, 4.5, math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, findBinBoundaries(tt.values, tt.maxBin))
		})
	}

	m := &BinMapper{Upper: [][]float64{{1.5, 2.5, math.Inf(1)}}}
	assert.Equal(t, 0, m.Bin(0, 1))
	assert.Equal(t, 0, m.Bin(0, 1.5))
	assert.Equal(t, 1, m.Bin(0, 2))
	assert.Equal(t, 2, m.Bin(0, 100))
}

func TestSplitGain(t *testing.T) {
	// two pure halves with gradients −1 and +1
	assert.InDelta(t, 0.5*(4.0/2+4.0/2-0), splitGain(-2, 2, 2, 2, 0), 1e-12)
	assert.Less(t, splitGain(-2, 2, 2, 2, 10), splitGain(-2, 2, 2, 2, 0), "lambda shrinks the gain")
}

func TestRegressorFit(t *testing.T) {
	X, y := regressionData(200)
	r := NewRegressor()
	require.NoError(t, r.SetParams(model.Params{"min_child_samples": 5}))
	require.NoError(t, r.Fit(X, y))

	pred, err := r.Predict(X)
	require.NoError(t, err)
	r2, err := metrics.R2Score(y, pred)
	require.NoError(t, err)
	assert.Greater(t, r2, 0.97)
	assert.Len(t, r.Trees, 100)
	for _, tr := range r.Trees {
		assert.LessOrEqual(t, tr.NumLeaves(), 31)
	}

	imp := r.FeatureImportances()
	assert.InDelta(t, 1.0, imp[0]+imp[1]+imp[2], 1e-9)
	assert.Equal(t, 0.0, imp[2], "a constant column is never split")
}

func TestRegressorLimits(t *testing.T) {
	X, y := regressionData(100)

	stumps := NewRegressor()
	require.NoError(t, stumps.SetParams(model.Params{"num_leaves": 2, "n_estimators": 3, "min_child_samples": 1}))
	require.NoError(t, stumps.Fit(X, y))
	for _, tr := range stumps.Trees {
		assert.Equal(t, 2, tr.NumLeaves())
	}

	shallow := NewRegressor()
	require.NoError(t, shallow.SetParams(model.Params{"max_depth": 1, "n_estimators": 3, "min_child_samples": 1}))
	require.NoError(t, shallow.Fit(X, y))
	for _, tr := range shallow.Trees {
		assert.Equal(t, 2, tr.NumLeaves())
	}

	big := NewRegressor()
	require.NoError(t, big.SetParams(model.Params{"min_child_samples": 1000, "n_estimators": 2}))
	require.NoError(t, big.Fit(X, y))
	assert.Equal(t, 1, big.Trees[0].NumLeaves(), "no split can satisfy the leaf size")
	pred, err := big.Predict(X)
	require.NoError(t, err)
	assert.InDelta(t, big.InitScore, pred.AtVec(0), 1e-12)
}

func TestRegressorSamplingIsSeeded(t *testing.T) {
	X, y := regressionData(120)
	params := model.Params{"subsample": 0.7, "colsample_bytree": 0.67, "n_estimators": 10, "min_child_samples": 3}
	a, b := NewRegressor(), NewRegressor()
	require.NoError(t, a.SetParams(params))
	require.NoError(t, b.SetParams(params))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.Trees, b.Trees)
}

func TestRegressorSetParams(t *testing.T) {
	tests := []model.Params{
		{"num_leaves": 1},
		{"learning_rate": 0.0},
		{"max_bin": 1},
		{"subsample": 1.5},
		{"boosting_type": "dart"},
	}
	for _, p := range tests {
		r := NewRegressor()
		assert.True(t, errors.IsValidation(r.SetParams(p)), "%v", p)
		assert.Equal(t, DefaultParams(), r.TrainingParams)
	}
}

func TestRegressorMissingValuesFollowDefault(t *testing.T) {
	X, y := regressionData(60)
	r := NewRegressor()
	require.NoError(t, r.SetParams(model.Params{"n_estimators": 5, "min_child_samples": 2}))
	require.NoError(t, r.Fit(X, y))

	pred, err := r.Predict(mat.NewDense(1, 3, []float64{math.NaN(), math.NaN(), 1}))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(pred.AtVec(0)))
}

func TestRegistersLightGBMKind(t *testing.T) {
	assert.True(t, models.IsAvailable("lightgbm"))
	assert.Contains(t, models.Available(), "lightgbm")

	est, kind, err := models.New("lightgbm", model.Params{"num_leaves": 7})
	require.NoError(t, err)
	assert.Equal(t, models.LightGBM, kind)
	assert.Equal(t, 7, est.Params()["num_leaves"])
	assert.Equal(t, models.DefaultSeed, est.Params()["random_state"])
}

func TestDumpModelRoundTrip(t *testing.T) {
	X, y := regressionData(80)
	r := NewRegressor()
	require.NoError(t, r.SetParams(model.Params{"n_estimators": 10, "min_child_samples": 4}))
	require.NoError(t, r.Fit(X, y))

	data, err := r.DumpModel([]string{"area", "age", "bias"})
	require.NoError(t, err)
	d, err := LoadDump(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"area", "age", "bias"}, d.FeatureNames)
	require.Len(t, d.TreeInfo, 10)

	pred, _ := r.Predict(X)
	row := make([]float64, 3)
	for i := 0; i < 80; i++ {
		mat.Row(row, i, X)
		assert.Equal(t, pred.AtVec(i), d.Predict(row))
	}

	_, err = r.DumpModel([]string{"only"})
	assert.True(t, errors.IsValidation(err))
	_, err = NewRegressor().DumpModel(nil)
	assert.ErrorIs(t, err, errors.ErrNotFitted)
	_, err = LoadDump([]byte("{"))
	var fe *errors.FormatError
	assert.True(t, errors.As(err, &fe))
}

func TestRegressorGobRoundTrip(t *testing.T) {
	X, y := regressionData(50)
	r := NewRegressor()
	require.NoError(t, r.SetParams(model.Params{"n_estimators": 5, "min_child_samples": 2}))
	require.NoError(t, r.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(r, &buf))
	var got Regressor
	require.NoError(t, model.LoadModelFromReader(&got, &buf))

	want, _ := r.Predict(X)
	pred, err := got.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want.RawVector().Data, pred.RawVector().Data)
}

func TestRegressorLogsIterations(t *testing.T) {
	X, y := regressionData(30)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	r := NewRegressor().WithLogger(logger)
	require.NoError(t, r.SetParams(model.Params{"n_estimators": 2, "min_child_samples": 2}))
	require.NoError(t, r.Fit(X, y))
	assert.True(t, logger.ContainsMessage("boosting iteration"))
}
