package model

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"alpha":     0.5,
		"max_iter":  1000,
		"depth":     3.0,
		"kernel":    "rbf",
		"bootstrap": true,
		"max_depth": nil,
		"bad_int":   2.5,
	}

	alpha, err := p.Float("alpha", 1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, alpha)

	missing, err := p.Float("l1_ratio", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, missing)

	n, err := p.Int("max_iter", 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	d, err := p.Int("depth", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, d)

	md, err := p.OptionalInt("max_depth")
	require.NoError(t, err)
	assert.Equal(t, 0, md)

	_, err = p.Int("bad_int", 0)
	assert.True(t, errors.IsValidation(err))

	k, err := p.Str("kernel", "linear")
	require.NoError(t, err)
	assert.Equal(t, "rbf", k)

	_, err = p.Str("alpha", "")
	assert.True(t, errors.IsValidation(err))

	b, err := p.Bool("bootstrap", false)
	require.NoError(t, err)
	assert.True(t, b)
}

func TestParamsMergeAndKeys(t *testing.T) {
	base := Params{"alpha": 1.0, "random_state": 42}
	merged := base.Merge(Params{"alpha": 0.1})

	assert.Equal(t, 1.0, base["alpha"], "merge must not mutate the receiver")
	assert.Equal(t, 0.1, merged["alpha"])
	assert.Equal(t, []string{"alpha", "random_state"}, merged.Keys())
	assert.Equal(t, "{alpha=0.1, random_state=42}", merged.String())

	assert.NoError(t, merged.CheckKeys("alpha", "random_state", "max_iter"))
	assert.True(t, errors.IsValidation(merged.CheckKeys("alpha")))
}

func TestStateManager(t *testing.T) {
	var s StateManager
	assert.ErrorIs(t, s.RequireFitted("ridge", "Predict"), errors.ErrNotFitted)

	s.SetFitted(3, 10)
	assert.True(t, s.IsFitted())

	err := s.CheckPredict("ridge", mat.NewDense(1, 2, []float64{1, 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature dimension mismatch: expected 3, got 2")
	assert.NoError(t, s.CheckPredict("ridge", mat.NewDense(1, 3, nil)))

	s.Reset()
	assert.False(t, s.IsFitted())
	assert.Equal(t, 0, s.NFeatures)
}

func TestCheckFitInput(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	r, c, err := CheckFitInput("fit", X, mat.NewVecDense(2, []float64{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)

	_, _, err = CheckFitInput("fit", X, mat.NewVecDense(3, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

type savedState struct {
	Coef  []float64
	State StateManager
}

func TestPersistenceRoundTrip(t *testing.T) {
	in := savedState{Coef: []float64{1.5, -2}, State: StateManager{Fitted: true, NFeatures: 2, NSamples: 5}}

	var buf bytes.Buffer
	require.NoError(t, SaveModelToWriter(in, &buf))
	var out savedState
	require.NoError(t, LoadModelFromReader(&out, &buf))
	assert.Equal(t, in, out)

	path := filepath.Join(t.TempDir(), "state.gob")
	require.NoError(t, SaveModel(in, path))
	var fromFile savedState
	require.NoError(t, LoadModel(&fromFile, path))
	assert.Equal(t, in, fromFile)

	err := LoadModel(&fromFile, filepath.Join(t.TempDir(), "missing.gob"))
	assert.True(t, errors.IsNotFound(err))
}
