package linear

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// rankTol は SVD で数値的ランクを決める相対しきい値
const rankTol = 1e-12

// LinearRegression は通常の最小二乗法による線形回帰モデル
type LinearRegression struct {
	Linear
}

// NewLinearRegression は新しい線形回帰モデルを作成する
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

// Fit は中心化したデータに QR 分解で最小二乗解を求める。
// ランク落ちしている場合は SVD による最小ノルム解にフォールバックする。
func (lr *LinearRegression) Fit(X mat.Matrix, y mat.Vector) error {
	n, _, err := model.CheckFitInput("LinearRegression.Fit", X, y)
	if err != nil {
		return err
	}
	Xc, yc, xMean, yMean := centered(X, y)
	w, err := leastSquares("LinearRegression.Fit", Xc, yc)
	if err != nil {
		return err
	}
	lr.setSolution(w, xMean, yMean, n)
	return nil
}

// Predict は y = X * weights + intercept を計算する
func (lr *LinearRegression) Predict(X mat.Matrix) (*mat.VecDense, error) {
	return lr.predict("LinearRegression", X)
}

// Params はハイパーパラメータを返す（線形回帰には無い）
func (lr *LinearRegression) Params() model.Params {
	return model.Params{}
}

func (lr *LinearRegression) SetParams(params model.Params) error {
	return params.CheckKeys()
}

// Ridge は L2 正則化付きの線形回帰モデル。
// (XᵀX + αI) w = Xᵀy を Cholesky 分解で解く。
type Ridge struct {
	Linear
	Penalty
}

// NewRidge は alpha=1 の Ridge を作成する
func NewRidge(opts ...Option) *Ridge {
	return &Ridge{Penalty: buildPenalty(opts)}
}

var ridgeKeys = []string{"alpha", "random_state"}

func (m *Ridge) Fit(X mat.Matrix, y mat.Vector) error {
	if err := m.validate(); err != nil {
		return err
	}
	n, c, err := model.CheckFitInput("Ridge.Fit", X, y)
	if err != nil {
		return err
	}
	Xc, yc, xMean, yMean := centered(X, y)

	var gram mat.SymDense
	gram.SymOuterK(1, Xc.T())
	for j := 0; j < c; j++ {
		gram.SetSym(j, j, gram.At(j, j)+m.Alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(Xc.T(), yc)

	w := mat.NewVecDense(c, nil)
	var chol mat.Cholesky
	if !chol.Factorize(&gram) || chol.SolveVecTo(w, &rhs) != nil {
		// alpha=0 かつ多重共線性がある場合のみ到達する
		sol, err := leastSquares("Ridge.Fit", Xc, yc)
		if err != nil {
			return err
		}
		m.setSolution(sol, xMean, yMean, n)
		return nil
	}
	m.setSolution(w.RawVector().Data, xMean, yMean, n)
	return nil
}

func (m *Ridge) Predict(X mat.Matrix) (*mat.VecDense, error) {
	return m.predict("Ridge", X)
}

func (m *Ridge) Params() model.Params {
	return m.params(ridgeKeys...)
}

func (m *Ridge) SetParams(params model.Params) error {
	return m.apply(params, ridgeKeys...)
}

// leastSquares は min ||A w - b|| を解く
func leastSquares(op string, A *mat.Dense, b *mat.VecDense) ([]float64, error) {
	r, c := A.Dims()
	w := mat.NewVecDense(c, nil)
	if r >= c {
		var qr mat.QR
		qr.Factorize(A)
		if err := qr.SolveVecTo(w, false, b); err == nil {
			return w.RawVector().Data, nil
		}
	}

	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDThin) {
		return nil, errors.NewModelError(op, "singular matrix", errors.ErrSingularMatrix)
	}
	rank := svd.Rank(rankTol)
	if rank == 0 {
		return make([]float64, c), nil
	}
	w = mat.NewVecDense(c, nil)
	svd.SolveVecTo(w, b, rank)
	return w.RawVector().Data, nil
}
