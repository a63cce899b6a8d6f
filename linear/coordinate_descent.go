package linear

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Lasso は L1 正則化付きの線形回帰モデル。
// 目的関数: (1/2n)||y - Xw||² + α||w||₁
type Lasso struct {
	Linear
	Penalty
	// NIter は最後の学習で実行した反復回数
	NIter int
}

// NewLasso は alpha=1, max_iter=1000, tol=1e-4 の Lasso を作成する
func NewLasso(opts ...Option) *Lasso {
	return &Lasso{Penalty: buildPenalty(opts)}
}

var lassoKeys = []string{"alpha", "max_iter", "tol", "random_state"}

func (m *Lasso) Fit(X mat.Matrix, y mat.Vector) error {
	if err := m.validate(); err != nil {
		return err
	}
	n, _, err := model.CheckFitInput("Lasso.Fit", X, y)
	if err != nil {
		return err
	}
	Xc, yc, xMean, yMean := centered(X, y)
	w, iters := coordinateDescent("Lasso", Xc, yc, m.Alpha, 1, m.MaxIter, m.Tol)
	m.NIter = iters
	m.setSolution(w, xMean, yMean, n)
	return nil
}

func (m *Lasso) Predict(X mat.Matrix) (*mat.VecDense, error) {
	return m.predict("Lasso", X)
}

func (m *Lasso) Params() model.Params {
	return m.params(lassoKeys...)
}

func (m *Lasso) SetParams(params model.Params) error {
	return m.apply(params, lassoKeys...)
}

// ElasticNet は L1 と L2 を混合した正則化付きの線形回帰モデル。
// 目的関数: (1/2n)||y - Xw||² + αρ||w||₁ + α(1-ρ)/2 ||w||²
type ElasticNet struct {
	Linear
	Penalty
	NIter int
}

// NewElasticNet は alpha=1, l1_ratio=0.5 の ElasticNet を作成する
func NewElasticNet(opts ...Option) *ElasticNet {
	return &ElasticNet{Penalty: buildPenalty(opts)}
}

var elasticNetKeys = []string{"alpha", "l1_ratio", "max_iter", "tol", "random_state"}

func (m *ElasticNet) Fit(X mat.Matrix, y mat.Vector) error {
	if err := m.validate(); err != nil {
		return err
	}
	n, _, err := model.CheckFitInput("ElasticNet.Fit", X, y)
	if err != nil {
		return err
	}
	Xc, yc, xMean, yMean := centered(X, y)
	w, iters := coordinateDescent("ElasticNet", Xc, yc, m.Alpha, m.L1Ratio, m.MaxIter, m.Tol)
	m.NIter = iters
	m.setSolution(w, xMean, yMean, n)
	return nil
}

func (m *ElasticNet) Predict(X mat.Matrix) (*mat.VecDense, error) {
	return m.predict("ElasticNet", X)
}

func (m *ElasticNet) Params() model.Params {
	return m.params(elasticNetKeys...)
}

func (m *ElasticNet) SetParams(params model.Params) error {
	return m.apply(params, elasticNetKeys...)
}

// coordinateDescent は中心化済みデータに対して巡回座標降下法を実行する。
// 係数の最大変化量が係数の最大絶対値の tol 倍を下回ったら収束とみなす。
// 収束しなかった場合は ConvergenceWarning を発行し、その時点の係数を返す。
func coordinateDescent(name string, X *mat.Dense, y *mat.VecDense, alpha, l1Ratio float64, maxIter int, tol float64) ([]float64, int) {
	r, c := X.Dims()
	cols := make([][]float64, c)
	norms := make([]float64, c)
	for j := range cols {
		cols[j] = mat.Col(nil, j, X)
		norms[j] = floats.Dot(cols[j], cols[j])
	}
	resid := mat.Col(nil, 0, y)
	w := make([]float64, c)

	l1 := float64(r) * alpha * l1Ratio
	l2 := float64(r) * alpha * (1 - l1Ratio)
	for iter := 1; iter <= maxIter; iter++ {
		var maxDelta, maxW float64
		for j := 0; j < c; j++ {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			rho := floats.Dot(cols[j], resid) + norms[j]*old
			next := softThreshold(rho, l1) / (norms[j] + l2)
			if next != old {
				floats.AddScaled(resid, old-next, cols[j])
				w[j] = next
			}
			maxDelta = math.Max(maxDelta, math.Abs(next-old))
			maxW = math.Max(maxW, math.Abs(next))
		}
		if maxW == 0 || maxDelta/maxW < tol {
			return w, iter
		}
	}
	errors.Warn(errors.NewConvergenceWarning(name, maxIter,
		"coordinate descent did not converge; consider increasing max_iter"))
	return w, maxIter
}

func softThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	default:
		return 0
	}
}
