package predict

import (
	"math"
	"sync"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// DriftStatus is the state reported by a DriftMonitor after an observation.
type DriftStatus int

const (
	Stable DriftStatus = iota
	Warning
	Drift
)

func (s DriftStatus) String() string {
	switch s {
	case Warning:
		return "warning"
	case Drift:
		return "drift"
	default:
		return "stable"
	}
}

// DriftMonitor watches served predictions against the prices that later
// materialise and flags when the model's miss rate climbs. It follows the
// drift detection method of Gama et al. (2004): a prediction is a miss when
// its relative error exceeds the tolerance, and the monitor compares the
// running miss rate p plus its deviation s against the lowest p+s seen.
type DriftMonitor struct {
	tolerance    float64
	minInstances int
	warningLevel float64
	driftLevel   float64

	mu     sync.RWMutex
	n      int
	misses int
	pMin   float64
	sMin   float64
}

// DriftOption configures a DriftMonitor.
type DriftOption func(*DriftMonitor)

// WithTolerance sets the relative error above which a prediction counts as a
// miss. When the actual price is zero the error is taken as absolute.
func WithTolerance(tol float64) DriftOption {
	return func(m *DriftMonitor) { m.tolerance = tol }
}

// WithMinInstances sets how many observations are needed before any state
// other than Stable is reported.
func WithMinInstances(n int) DriftOption {
	return func(m *DriftMonitor) { m.minInstances = n }
}

// WithLevels sets the warning and drift multiples of the reference deviation.
func WithLevels(warning, drift float64) DriftOption {
	return func(m *DriftMonitor) {
		m.warningLevel = warning
		m.driftLevel = drift
	}
}

// NewDriftMonitor returns a monitor with a 20% tolerance, 30 warm-up
// observations and the usual 2σ/3σ levels.
func NewDriftMonitor(opts ...DriftOption) *DriftMonitor {
	m := &DriftMonitor{
		tolerance:    0.2,
		minInstances: 30,
		warningLevel: 2,
		driftLevel:   3,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reset()
	return m
}

// Observe records one prediction and the actual price.
func (m *DriftMonitor) Observe(predicted, actual float64) DriftStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.n++
	if m.isMiss(predicted, actual) {
		m.misses++
	}
	if m.n < m.minInstances {
		return Stable
	}

	p := float64(m.misses) / float64(m.n)
	s := math.Sqrt(p * (1 - p) / float64(m.n))
	if p+s < m.pMin+m.sMin {
		m.pMin, m.sMin = p, s
	}

	switch {
	case p+s > m.pMin+m.driftLevel*m.sMin:
		// start over on the new regime
		m.reset()
		return Drift
	case p+s > m.pMin+m.warningLevel*m.sMin:
		return Warning
	}
	return Stable
}

func (m *DriftMonitor) isMiss(predicted, actual float64) bool {
	e := math.Abs(predicted - actual)
	if actual != 0 {
		e /= math.Abs(actual)
	}
	return !(e <= m.tolerance)
}

// MissRate returns the miss rate since the last reset.
func (m *DriftMonitor) MissRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.n == 0 {
		return 0
	}
	return float64(m.misses) / float64(m.n)
}

// Observations returns the number of observations since the last reset.
func (m *DriftMonitor) Observations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.n
}

// Reset clears all statistics.
func (m *DriftMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *DriftMonitor) reset() {
	m.n = 0
	m.misses = 0
	m.pMin = math.Inf(1)
	m.sMin = math.Inf(1)
}

// DriftSummary describes a full pass of a DriftMonitor over a batch.
type DriftSummary struct {
	Observations int     `json:"observations"`
	Misses       int     `json:"misses"`
	MissRate     float64 `json:"miss_rate"`
	Warnings     int     `json:"warnings"`
	Drifts       int     `json:"drifts"`
	// FirstDrift is the index of the first observation that raised Drift,
	// or -1.
	FirstDrift int `json:"first_drift"`
}

// MonitorDrift replays yPred against yTrue in order through a new monitor.
func MonitorDrift(yTrue, yPred []float64, opts ...DriftOption) (DriftSummary, error) {
	if len(yTrue) != len(yPred) {
		return DriftSummary{}, errors.NewDimensionError("MonitorDrift", len(yTrue), len(yPred), 0)
	}
	if len(yTrue) == 0 {
		return DriftSummary{}, errors.ErrEmptyData
	}

	m := NewDriftMonitor(opts...)
	sum := DriftSummary{Observations: len(yTrue), FirstDrift: -1}
	for i := range yTrue {
		if m.isMiss(yPred[i], yTrue[i]) {
			sum.Misses++
		}
		switch m.Observe(yPred[i], yTrue[i]) {
		case Warning:
			sum.Warnings++
		case Drift:
			sum.Drifts++
			if sum.FirstDrift < 0 {
				sum.FirstDrift = i
			}
		}
	}
	sum.MissRate = float64(sum.Misses) / float64(sum.Observations)
	return sum, nil
}
