package tuning

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/linear"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// y = 3 + 2a - b with a small deterministic wobble
func regressionData(n int) (*mat.Dense, []float64) {
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a, b := float64(i), float64((i*7)%11)
		X.Set(i, 0, a)
		X.Set(i, 1, b)
		y[i] = 3 + 2*a - b + 0.1*math.Sin(float64(i))
	}
	return X, y
}

func ridgeFactory(params model.Params) (model.Regressor, error) {
	r := linear.NewRidge()
	if err := r.SetParams(params); err != nil {
		return nil, err
	}
	return r, nil
}

func TestKFoldSplit(t *testing.T) {
	folds, err := KFold{NSplits: 3}.Split(10)
	require.NoError(t, err)
	require.Len(t, folds, 3)

	wantTest := [][]int{{0, 1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	for i, f := range folds {
		if diff := cmp.Diff(wantTest[i], f.Test); diff != "" {
			t.Errorf("fold %d test mismatch (-want +got):\n%s", i, diff)
		}
		assert.Len(t, f.Train, 10-len(f.Test))
	}

	shuffled, err := KFold{NSplits: 5, Shuffle: true, Seed: 7}.Split(20)
	require.NoError(t, err)
	var all []int
	for _, f := range shuffled {
		all = append(all, f.Test...)
	}
	sort.Ints(all)
	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, all, "test folds must partition the rows")

	again, err := KFold{NSplits: 5, Shuffle: true, Seed: 7}.Split(20)
	require.NoError(t, err)
	assert.Equal(t, shuffled, again)

	tests := []struct {
		name string
		kf   KFold
		n    int
	}{
		{"one fold", KFold{NSplits: 1}, 10},
		{"more folds than rows", KFold{NSplits: 5}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.kf.Split(tt.n)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestGetScorer(t *testing.T) {
	yTrue := mat.NewVecDense(3, []float64{1, 2, 3})
	yPred := mat.NewVecDense(3, []float64{1, 2, 5})

	s, err := GetScorer("")
	require.NoError(t, err)
	v, err := s(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, -4.0/3, v, 1e-12)

	s, err = GetScorer("neg_mean_absolute_error")
	require.NoError(t, err)
	v, err = s(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, -2.0/3, v, 1e-12)

	_, err = GetScorer("accuracy")
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, ScorerNames(), "r2")
}

func TestCrossValScore(t *testing.T) {
	X, y := regressionData(40)
	factory := func() (model.Regressor, error) { return linear.NewLinearRegression(), nil }

	res, err := CrossValScore(context.Background(), factory, X, y, DefaultKFold(), "r2", WithNJobs(2))
	require.NoError(t, err)
	require.Len(t, res.Scores, 5)
	assert.Greater(t, res.Mean, 0.99)
	assert.GreaterOrEqual(t, res.Std, 0.0)

	serial, err := CrossValScore(context.Background(), factory, X, y, DefaultKFold(), "r2", WithNJobs(1))
	require.NoError(t, err)
	assert.Equal(t, res.Scores, serial.Scores, "scores must not depend on scheduling")

	_, err = CrossValScore(context.Background(), factory, X, y[:10], DefaultKFold(), "r2")
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	failing := func() (model.Regressor, error) { return nil, errors.New("boom") }
	_, err = CrossValScore(context.Background(), failing, X, y, DefaultKFold(), "r2")
	assert.ErrorContains(t, err, "boom")
}

func TestCrossValScoreRecoversPanics(t *testing.T) {
	X, y := regressionData(20)
	factory := func() (model.Regressor, error) { return &panicky{}, nil }
	_, err := CrossValScore(context.Background(), factory, X, y, DefaultKFold(), "r2")
	var pe *errors.PanicError
	assert.True(t, errors.As(err, &pe))
}

type panicky struct{ linear.LinearRegression }

func (panicky) Fit(mat.Matrix, mat.Vector) error { panic("fit exploded") }

func TestGridCandidates(t *testing.T) {
	g := Grid{"b": {1, 2}, "a": {"x", "y"}, "empty": {}}
	got := g.Candidates()
	want := []model.Params{
		{"a": "x", "b": 1},
		{"a": "x", "b": 2},
		{"a": "y", "b": 1},
		{"a": "y", "b": 2},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []model.Params{{}}, Grid{}.Candidates())
}

func TestGridSearch(t *testing.T) {
	X, y := regressionData(50)
	logger, _ := log.NewTestLogger(log.LevelDebug)

	gs := &GridSearch{
		Factory: ridgeFactory,
		Grid:    Grid{"alpha": {1000.0, 0.01, 100.0}},
		CV:      DefaultKFold(),
		Scoring: "neg_mean_squared_error",
	}
	res, err := gs.Fit(context.Background(), X, y, WithLogger(logger))
	require.NoError(t, err)

	assert.Equal(t, model.Params{"alpha": 0.01}, res.BestParams)
	require.Len(t, res.Results, 3)
	for _, r := range res.Results {
		assert.LessOrEqual(t, r.Mean, res.BestScore)
	}
	require.NotNil(t, res.BestEstimator)
	assert.Equal(t, 0.01, res.BestEstimator.Params()["alpha"])
	assert.Equal(t, 2, res.BestEstimator.NFeatures(), "best estimator is refit on the full data")
	assert.True(t, logger.ContainsMessage("hyperparameter search finished"))
}

func TestSearchTiesKeepFirstCandidate(t *testing.T) {
	X, y := regressionData(30)
	// random_state does not change a ridge fit, so every candidate ties.
	gs := &GridSearch{
		Factory: ridgeFactory,
		Grid:    Grid{"random_state": {3, 1, 2}},
		CV:      KFold{NSplits: 3},
	}
	res, err := gs.Fit(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, model.Params{"random_state": 3}, res.BestParams)
}

func TestSearchFailedCandidates(t *testing.T) {
	X, y := regressionData(30)
	gs := &GridSearch{
		Factory: ridgeFactory,
		Grid:    Grid{"alpha": {-1.0, 1.0}},
		CV:      KFold{NSplits: 3},
	}
	res, err := gs.Fit(context.Background(), X, y)
	require.NoError(t, err)
	assert.Error(t, res.Results[0].Err)
	assert.True(t, math.IsNaN(res.Results[0].Mean))
	assert.Equal(t, model.Params{"alpha": 1.0}, res.BestParams)

	gs.Grid = Grid{"alpha": {-1.0, -2.0}}
	_, err = gs.Fit(context.Background(), X, y)
	var me *errors.ModelError
	assert.True(t, errors.As(err, &me))

	gs.Scoring = "accuracy"
	_, err = gs.Fit(context.Background(), X, y)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRandomSearch(t *testing.T) {
	X, y := regressionData(40)
	grid := Grid{"alpha": {0.001, 0.01, 0.1, 1.0, 10.0, 100.0}}

	rs := &RandomSearch{Factory: ridgeFactory, Grid: grid, NIter: 3, Seed: 42, CV: KFold{NSplits: 3}}
	res, err := rs.Fit(context.Background(), X, y)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	seen := map[float64]bool{}
	for _, r := range res.Results {
		a := r.Params["alpha"].(float64)
		assert.False(t, seen[a], "candidates are drawn without replacement")
		seen[a] = true
	}

	again, err := rs.Fit(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, res.BestParams, again.BestParams)
	for i := range res.Results {
		assert.Equal(t, res.Results[i].Params, again.Results[i].Params)
	}

	rs.NIter = 50
	full, err := rs.Fit(context.Background(), X, y)
	require.NoError(t, err)
	assert.Len(t, full.Results, 6, "n_iter beyond the grid size tries the whole grid")

	rs.NIter = 0
	_, err = rs.Fit(context.Background(), X, y)
	assert.True(t, errors.IsValidation(err))
}

func TestLearningCurve(t *testing.T) {
	X, y := regressionData(50)
	factory := func() (model.Regressor, error) { return linear.NewLinearRegression(), nil }

	res, err := LearningCurve(context.Background(), factory, X, y, []float64{0.5, 1.0, 10}, KFold{NSplits: 5}, "r2")
	require.NoError(t, err)
	assert.Equal(t, []int{20, 40, 10}, res.TrainSizes)
	require.Len(t, res.TestScores, 3)
	for _, m := range res.TestMean() {
		assert.Greater(t, m, 0.9)
	}
	assert.Len(t, res.TrainMean(), 3)

	_, err = LearningCurve(context.Background(), factory, X, y, []float64{100}, KFold{NSplits: 5}, "r2")
	assert.True(t, errors.IsValidation(err))
}

func TestCancelledContext(t *testing.T) {
	X, y := regressionData(20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	factory := func() (model.Regressor, error) { return linear.NewLinearRegression(), nil }
	_, err := CrossValScore(ctx, factory, X, y, DefaultKFold(), "r2")
	assert.ErrorIs(t, err, context.Canceled)
}
