package manager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors a Manager reports to.
type Metrics struct {
	// Candidates counts finished candidates by model and final status.
	Candidates *prometheus.CounterVec

	// FitDuration observes the build, tune and fit time of each candidate.
	FitDuration *prometheus.HistogramVec

	// BestScore is the ranking score of the latest selected best model.
	BestScore prometheus.Gauge
}

// NewMetrics registers the manager collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Candidates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "valuation_candidates_total",
			Help: "Total number of trained candidates by model and status",
		}, []string{"model", "status"}),
		FitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "valuation_fit_duration_seconds",
			Help:    "Candidate training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"model"}),
		BestScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "valuation_best_score",
			Help: "Ranking score of the best model of the latest run",
		}),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns the collectors registered with the default
// Prometheus registerer. They are created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}
