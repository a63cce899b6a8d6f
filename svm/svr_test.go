package svm

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/metrics"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

func line(n int) (*mat.Dense, *mat.VecDense) {
	X := mat.NewDense(n, 1, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x := -1 + 2*float64(i)/float64(n-1)
		X.Set(i, 0, x)
		y.SetVec(i, 2*x+1)
	}
	return X, y
}

func TestSVRLinearKernel(t *testing.T) {
	X, y := line(10)
	s := NewSVR()
	require.NoError(t, s.SetParams(model.Params{
		"kernel": KernelLinear, "C": 100.0, "epsilon": 0.1, "max_iter": 10000, "tol": 1e-6,
	}))
	require.NoError(t, s.Fit(X, y))

	pred, err := s.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.InDelta(t, y.AtVec(i), pred.AtVec(i), 0.12, "row %d stays inside the tube", i)
	}
	assert.Less(t, len(s.SupportVectors), 10)
}

func TestSVRRBFKernel(t *testing.T) {
	n := 30
	X := mat.NewDense(n, 1, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x := 6 * float64(i) / float64(n-1)
		X.Set(i, 0, x)
		y.SetVec(i, math.Sin(x))
	}
	s := NewSVR()
	require.NoError(t, s.SetParams(model.Params{"C": 10.0, "epsilon": 0.05, "gamma": 1.0, "max_iter": 5000}))
	require.NoError(t, s.Fit(X, y))

	pred, err := s.Predict(X)
	require.NoError(t, err)
	r2, err := metrics.R2Score(y, pred)
	require.NoError(t, err)
	assert.Greater(t, r2, 0.95)
	assert.Equal(t, 1.0, s.GammaValue)
}

func TestSVRGammaScale(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 0, 0, 2, 2, 0, 2, 2})
	y := mat.NewVecDense(4, []float64{0, 1, 1, 2})
	s := NewSVR()
	require.NoError(t, s.Fit(X, y))
	// variance of {0,0,0,2,2,0,2,2} is 1
	assert.InDelta(t, 0.5, s.GammaValue, 1e-12)
	assert.Equal(t, GammaScale, s.Params()["gamma"])
}

func TestSVRWideTubeHasNoSupportVectors(t *testing.T) {
	X, y := line(5)
	s := NewSVR()
	require.NoError(t, s.SetParams(model.Params{"epsilon": 100.0}))
	require.NoError(t, s.Fit(X, y))
	assert.Empty(t, s.SupportVectors)

	pred, err := s.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, pred.RawVector().Data)
}

func TestSVRConvergenceWarning(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	X, y := line(10)
	s := NewSVR()
	require.NoError(t, s.SetParams(model.Params{"max_iter": 1, "tol": 1e-12}))
	require.NoError(t, s.Fit(X, y))
	require.Len(t, warnings, 1)
	var cw *errors.ConvergenceWarning
	assert.True(t, errors.As(warnings[0], &cw))
	assert.Equal(t, "SVR", cw.Algorithm)
}

func TestSVRSetParams(t *testing.T) {
	tests := []struct {
		name   string
		params model.Params
		check  func(error) bool
	}{
		{"unknown kernel", model.Params{"kernel": "poly"}, errors.IsConfiguration},
		{"non-positive C", model.Params{"C": 0.0}, errors.IsValidation},
		{"negative gamma", model.Params{"gamma": -1.0}, errors.IsValidation},
		{"unknown key", model.Params{"degree": 3}, errors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSVR()
			assert.True(t, tt.check(s.SetParams(tt.params)))
			assert.Equal(t, NewSVR().Params(), s.Params())
		})
	}

	s := NewSVR()
	require.NoError(t, s.SetParams(model.Params{"gamma": 0.3}))
	assert.Equal(t, 0.3, s.Params()["gamma"])
	require.NoError(t, s.SetParams(model.Params{"gamma": GammaScale}))
	assert.Equal(t, GammaScale, s.Params()["gamma"])
}

func TestSVRGobRoundTrip(t *testing.T) {
	X, y := line(10)
	s := NewSVR()
	require.NoError(t, s.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(s, &buf))
	var got SVR
	require.NoError(t, model.LoadModelFromReader(&got, &buf))

	want, _ := s.Predict(X)
	pred, err := got.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want.RawVector().Data, pred.RawVector().Data)
}
