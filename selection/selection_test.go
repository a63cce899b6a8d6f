package selection

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/linear"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// y = 5a + b + 0.1c exactly; flat is constant.
func featureTable(n int) (*dataset.Table, []float64) {
	a := make([]float64, n)
	b := make([]float64, n)
	c := make([]float64, n)
	flat := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = float64(i)
		b[i] = float64((i * 7) % 11)
		c[i] = float64((i * 3) % 5)
		flat[i] = 4
		y[i] = 5*a[i] + b[i] + 0.1*c[i]
	}
	t := dataset.MustTable(
		dataset.NewNumeric("a", a),
		dataset.NewNumeric("b", b),
		dataset.NewNumeric("c", c),
		dataset.NewNumeric("flat", flat),
	)
	return t, y
}

func ols() (model.Regressor, error) { return linear.NewLinearRegression(), nil }

func TestVarianceThreshold(t *testing.T) {
	tbl, _ := featureTable(20)
	v := NewVarianceThreshold(0)
	require.NoError(t, v.Fit(tbl, nil))
	assert.Equal(t, []string{"a", "b", "c"}, v.Selected())
	assert.Equal(t, []bool{true, true, true, false}, v.Mask())
	assert.Equal(t, 0.0, v.Variances[3])

	out, err := v.Transform(tbl.Take([]int{0, 1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out.Names())
	assert.Equal(t, 3, out.NumRows())

	_, err = v.Transform(tbl.Drop("b"))
	assert.True(t, errors.IsValidation(err))

	high := NewVarianceThreshold(1e6)
	assert.True(t, errors.IsValidation(high.Fit(tbl, nil)), "dropping every column is an error")

	_, err = NewVarianceThreshold(0).Transform(tbl)
	assert.ErrorIs(t, err, errors.ErrNotFitted)
}

func TestSelectKBest(t *testing.T) {
	tbl, y := featureTable(30)

	tests := []struct {
		name  string
		score string
		k     int
		want  []string
	}{
		{"f_regression k=1", ScoreFRegression, 1, []string{"a"}},
		{"mutual_info k=1", ScoreMutualInfo, 1, []string{"a"}},
		{"k above width keeps all", ScoreFRegression, 10, []string{"a", "b", "c", "flat"}},
		{"k zero keeps half", "", 0, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSelectKBest(tt.k, tt.score)
			require.NoError(t, err)
			require.NoError(t, s.Fit(tbl, y))
			assert.Equal(t, tt.want, s.Selected())
			assert.Len(t, s.Scores, 4)
		})
	}

	_, err := NewSelectKBest(2, "chi2")
	assert.True(t, errors.IsConfiguration(err))

	s, _ := NewSelectKBest(1, "")
	assert.True(t, errors.IsValidation(s.Fit(tbl, nil)))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(s.Fit(tbl, y[:3]), &dimErr))
}

func TestFRegression(t *testing.T) {
	X := mat.NewDense(5, 3, []float64{
		1, 7, 2,
		2, 7, 1,
		3, 7, 4,
		4, 7, 3,
		5, 7, 5,
	})
	y := []float64{2, 4, 6, 8, 10}
	f, p := FRegression(X, y)

	assert.Greater(t, f[0], 1e6, "perfect correlation")
	assert.Less(t, p[0], 1e-6)
	assert.Equal(t, 0.0, f[1], "constant column")
	assert.Equal(t, 1.0, p[1])

	// r = 0.8 → F = 0.64/0.36·3
	assert.InDelta(t, 0.64/0.36*3, f[2], 1e-9)
	assert.Greater(t, p[2], 0.0)
	assert.Less(t, p[2], 1.0)
}

func TestMutualInfo(t *testing.T) {
	X := mat.NewDense(16, 2, nil)
	y := make([]float64, 16)
	for i := 0; i < 16; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, 3)
		y[i] = float64(i * i)
	}
	mi := MutualInfo(X, y)
	assert.Greater(t, mi[0], 0.5)
	assert.Equal(t, 0.0, mi[1])
}

func TestRFE(t *testing.T) {
	tbl, y := featureTable(20)
	tbl = tbl.Drop("flat")

	r := NewRFE("linear_regression", ols, 1, 1)
	require.NoError(t, r.Fit(tbl, y))
	assert.Equal(t, []string{"a"}, r.Selected())
	assert.Equal(t, []int{1, 2, 3}, r.Ranking)

	r2 := NewRFE("linear_regression", ols, 2, 5)
	require.NoError(t, r2.Fit(tbl, y))
	assert.Equal(t, []string{"a", "b"}, r2.Selected(), "step is capped at the remaining surplus")

	assert.True(t, errors.IsValidation(NewRFE("none", nil, 1, 1).Fit(tbl, y)))
}

func TestSelectFromModel(t *testing.T) {
	tbl, y := featureTable(20)
	tbl = tbl.Drop("flat")

	tests := []struct {
		threshold string
		want      []string
	}{
		{"mean", []string{"a"}},
		{"", []string{"a"}},
		{"median", []string{"a", "b"}},
		{"0.05", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run("threshold "+tt.threshold, func(t *testing.T) {
			s := NewSelectFromModel("linear_regression", ols, tt.threshold)
			require.NoError(t, s.Fit(tbl, y))
			assert.Equal(t, tt.want, s.Selected())
			assert.InDeltaSlice(t, []float64{5, 1, 0.1}, s.Importances, 1e-8)
		})
	}

	s := NewSelectFromModel("linear_regression", ols, "bogus")
	assert.True(t, errors.IsConfiguration(s.Fit(tbl, y)))
}

func TestSequentialSelector(t *testing.T) {
	tbl, y := featureTable(30)
	tbl = tbl.Drop("flat")

	fwd, err := NewSequentialSelector("linear_regression", ols, 1, Forward, 5)
	require.NoError(t, err)
	require.NoError(t, fwd.Fit(tbl, y))
	assert.Equal(t, []string{"a"}, fwd.Selected())

	bwd, err := NewSequentialSelector("linear_regression", ols, 2, Backward, 5)
	require.NoError(t, err)
	require.NoError(t, bwd.Fit(tbl, y))
	assert.Equal(t, []string{"a", "b"}, bwd.Selected())

	_, err = NewSequentialSelector("linear_regression", ols, 1, "sideways", 5)
	assert.True(t, errors.IsConfiguration(err))
}

func TestSelectorGobRoundTrip(t *testing.T) {
	type bundle struct {
		Steps []any
	}
	tbl, y := featureTable(20)
	r := NewRFE("linear_regression", ols, 2, 1)
	require.NoError(t, r.Fit(tbl.Drop("flat"), y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(bundle{Steps: []any{r}}, &buf))
	var out bundle
	require.NoError(t, model.LoadModelFromReader(&out, &buf))

	got, ok := out.Steps[0].(*RFE)
	require.True(t, ok)
	assert.Equal(t, r.Selected(), got.Selected())
	assert.Equal(t, r.Ranking, got.Ranking)

	transformed, err := got.Transform(tbl)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "flat"}, transformed.Names(), "columns outside the inputs pass through")
}
