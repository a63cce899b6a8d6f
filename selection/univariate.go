package selection

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/valuation/core/stats"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// VarianceThreshold drops columns whose population variance is at or below
// Threshold.
type VarianceThreshold struct {
	Support
	Threshold float64
	Variances []float64
}

func NewVarianceThreshold(threshold float64) *VarianceThreshold {
	return &VarianceThreshold{Threshold: threshold}
}

func (v *VarianceThreshold) Fit(t *dataset.Table, _ []float64) error {
	if v.Threshold < 0 {
		return errors.NewValidationError("threshold", "must be >= 0", v.Threshold)
	}
	names, X, err := numericInputs(t, nil)
	if err != nil {
		return err
	}
	v.Variances = make([]float64, len(names))
	mask := make([]bool, len(names))
	for j := range names {
		sd := stats.PopulationStd(mat.Col(nil, j, X))
		v.Variances[j] = sd * sd
		mask[j] = v.Variances[j] > v.Threshold
	}
	return v.keep(names, mask, t.NumRows())
}

// Score names accepted by SelectKBest.
const (
	ScoreFRegression = "f_regression"
	ScoreMutualInfo  = "mutual_info"
)

// SelectKBest keeps the K columns with the highest univariate score against
// the target. Ties keep the earlier column.
type SelectKBest struct {
	Support
	K       int
	Score   string
	Scores  []float64
	PValues []float64
}

// NewSelectKBest builds a selector. An empty score means f_regression.
func NewSelectKBest(k int, score string) (*SelectKBest, error) {
	if score == "" {
		score = ScoreFRegression
	}
	if score != ScoreFRegression && score != ScoreMutualInfo {
		return nil, errors.NewConfigurationError("feature_selection.score", score, ScoreFRegression, ScoreMutualInfo)
	}
	return &SelectKBest{K: k, Score: score}, nil
}

func (s *SelectKBest) Fit(t *dataset.Table, y []float64) error {
	if y == nil {
		return errors.NewValidationError("y", "univariate selection requires the target", nil)
	}
	names, X, err := numericInputs(t, y)
	if err != nil {
		return err
	}
	k, err := targetCount(s.K, len(names))
	if err != nil {
		return err
	}
	switch s.Score {
	case ScoreMutualInfo:
		s.Scores, s.PValues = MutualInfo(X, y), nil
	default:
		s.Scores, s.PValues = FRegression(X, y)
	}

	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rankKey(s.Scores[order[a]]) > rankKey(s.Scores[order[b]])
	})
	mask := make([]bool, len(names))
	for _, j := range order[:k] {
		mask[j] = true
	}
	return s.keep(names, mask, t.NumRows())
}

func rankKey(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

// FRegression returns the univariate F statistic of each column against y
// and its p-value. F = r²/(1-r²)·(n-2) with r the Pearson correlation.
// Constant columns score 0 with p-value 1.
func FRegression(X mat.Matrix, y []float64) (f, p []float64) {
	r, c := X.Dims()
	f = make([]float64, c)
	p = make([]float64, c)
	dof := float64(r - 2)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		corr := stat.Correlation(col, y, nil)
		if math.IsNaN(corr) || dof <= 0 {
			f[j], p[j] = 0, 1
			continue
		}
		r2 := corr * corr
		if r2 >= 1 {
			f[j], p[j] = math.Inf(1), 0
			continue
		}
		f[j] = r2 / (1 - r2) * dof
		p[j] = distuv.F{D1: 1, D2: dof}.Survival(f[j])
	}
	return f, p
}

// MutualInfo estimates the mutual information (in nats) between each column
// and y by equal-width binning of both into clamp(√n, 2, 20) bins. A constant
// column scores 0.
func MutualInfo(X mat.Matrix, y []float64) []float64 {
	r, c := X.Dims()
	bins := min(max(int(math.Sqrt(float64(r))), 2), 20)
	yb := binIndex(y, bins)
	out := make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		out[j] = mutualInfo(binIndex(col, bins), yb, bins, r)
	}
	return out
}

func binIndex(values []float64, bins int) []int {
	lo, hi := stats.MinMax(values)
	out := make([]int, len(values))
	if hi == lo {
		return out
	}
	width := (hi - lo) / float64(bins)
	for i, v := range values {
		out[i] = min(int((v-lo)/width), bins-1)
	}
	return out
}

func mutualInfo(xb, yb []int, bins, n int) float64 {
	joint := make([]float64, bins*bins)
	px := make([]float64, bins)
	py := make([]float64, bins)
	for i := range xb {
		joint[xb[i]*bins+yb[i]]++
		px[xb[i]]++
		py[yb[i]]++
	}
	total := float64(n)
	var mi float64
	for a := 0; a < bins; a++ {
		for b := 0; b < bins; b++ {
			nab := joint[a*bins+b]
			if nab == 0 {
				continue
			}
			mi += nab / total * math.Log(nab*total/(px[a]*py[b]))
		}
	}
	return math.Max(mi, 0)
}
