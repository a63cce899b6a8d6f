package predict

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// degradingStream misses every fifth price for the first n observations and
// every price after that.
func degradingStream(n, tail int) (yTrue, yPred []float64) {
	for i := 0; i < n+tail; i++ {
		yTrue = append(yTrue, 100)
		if i >= n || i%5 == 4 {
			yPred = append(yPred, 150)
		} else {
			yPred = append(yPred, 105)
		}
	}
	return yTrue, yPred
}

func TestDriftMonitor(t *testing.T) {
	yTrue, yPred := degradingStream(200, 100)
	m := NewDriftMonitor()

	first := -1
	for i := range yTrue {
		st := m.Observe(yPred[i], yTrue[i])
		if i < 200 {
			require.Equal(t, Stable, st, "observation %d", i)
			continue
		}
		if st == Drift && first < 0 {
			first = i
			assert.Zero(t, m.Observations())
		}
	}
	require.GreaterOrEqual(t, first, 200)
	assert.Less(t, first, 240)
	// the new regime is all misses
	assert.Equal(t, 1.0, m.MissRate())

	m.Reset()
	assert.Zero(t, m.Observations())
	assert.Zero(t, m.MissRate())
}

func TestDriftMonitorOptions(t *testing.T) {
	m := NewDriftMonitor(WithMinInstances(5), WithTolerance(0.01))
	for i := 0; i < 4; i++ {
		assert.Equal(t, Stable, m.Observe(102, 100))
	}
	assert.Equal(t, 1.0, m.MissRate())

	m = NewDriftMonitor(WithMinInstances(1))
	for i := 0; i < 50; i++ {
		assert.Equal(t, Stable, m.Observe(100, 100))
	}
	assert.Equal(t, Drift, m.Observe(math.NaN(), 100))

	// zero prices fall back to absolute error
	m = NewDriftMonitor(WithTolerance(0.5))
	m.Observe(0.4, 0)
	m.Observe(0.6, 0)
	assert.Equal(t, 0.5, m.MissRate())

	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "stable", Stable.String())
}

func TestMonitorDrift(t *testing.T) {
	yTrue, yPred := degradingStream(200, 100)
	sum, err := MonitorDrift(yTrue, yPred)
	require.NoError(t, err)
	assert.Equal(t, 300, sum.Observations)
	assert.Equal(t, 140, sum.Misses)
	assert.InDelta(t, 140.0/300, sum.MissRate, 1e-12)
	assert.GreaterOrEqual(t, sum.Drifts, 1)
	assert.GreaterOrEqual(t, sum.FirstDrift, 200)

	sum, err = MonitorDrift([]float64{1, 2}, []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, -1, sum.FirstDrift)
	assert.Zero(t, sum.Drifts)

	_, err = MonitorDrift([]float64{1}, nil)
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
	_, err = MonitorDrift(nil, nil)
	assert.ErrorIs(t, err, errors.ErrEmptyData)
}
