package tuning

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/metrics"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Scorer rates predictions so that higher is always better.
type Scorer func(yTrue, yPred mat.Vector) (float64, error)

// DefaultScoring is the scorer used when none is configured.
const DefaultScoring = "neg_mean_squared_error"

func negate(f func(yTrue, yPred mat.Vector) (float64, error)) Scorer {
	return func(yTrue, yPred mat.Vector) (float64, error) {
		v, err := f(yTrue, yPred)
		return -v, err
	}
}

var scorers = map[string]Scorer{
	"neg_mean_squared_error":      negate(metrics.MSE),
	"neg_root_mean_squared_error": negate(metrics.RMSE),
	"neg_mean_absolute_error":     negate(metrics.MAE),
	"r2":                          metrics.R2Score,
	"explained_variance":          metrics.ExplainedVarianceScore,
}

// ScorerNames lists the supported scoring names in sorted order.
func ScorerNames() []string {
	names := make([]string, 0, len(scorers))
	for n := range scorers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetScorer resolves a scoring name. Empty means DefaultScoring.
func GetScorer(name string) (Scorer, error) {
	if name == "" {
		name = DefaultScoring
	}
	s, ok := scorers[name]
	if !ok {
		return nil, errors.NewConfigurationError("scoring", name, ScorerNames()...)
	}
	return s, nil
}

// better reports whether a beats b. NaN never wins.
func better(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	return math.IsNaN(b) || a > b
}
