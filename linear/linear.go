// Package linear は最小二乗法とその正則化版（Ridge / Lasso / ElasticNet）の回帰器を提供します。
//
// すべての推定器は切片を持ち、切片は正則化しません。学習は中心化したデータで行い、
// 切片は平均から復元します。学習済みの状態は公開フィールドに保持され gob で永続化できます。
package linear

import (
	"encoding/gob"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/parallel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func init() {
	gob.Register(&LinearRegression{})
	gob.Register(&Ridge{})
	gob.Register(&Lasso{})
	gob.Register(&ElasticNet{})
}

// 並列処理の閾値（この値以下の行数では逐次処理を使用）
const parallelThreshold = 1000

// Linear は線形モデルの学習済み状態（係数と切片）
type Linear struct {
	model.StateManager
	Weights []float64
	Bias    float64
}

// Coefficients は学習された係数のコピーを返す
func (l *Linear) Coefficients() []float64 {
	return append([]float64(nil), l.Weights...)
}

// Intercept は学習された切片を返す
func (l *Linear) Intercept() float64 {
	return l.Bias
}

// NFeatures は学習時の特徴量数を返す
func (l *Linear) NFeatures() int {
	return l.StateManager.NFeatures
}

func (l *Linear) predict(name string, X mat.Matrix) (*mat.VecDense, error) {
	if err := l.CheckPredict(name, X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	out := mat.NewVecDense(r, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := range row {
			row[j] = X.At(i, j)
		}
		out.SetVec(i, floats.Dot(row, l.Weights)+l.Bias)
	}
	return out, nil
}

// setSolution は中心化データ上の係数 w から切片を復元して状態を確定する
func (l *Linear) setSolution(w, xMean []float64, yMean float64, nSamples int) {
	l.Weights = w
	l.Bias = yMean - floats.Dot(xMean, w)
	l.SetFitted(len(w), nSamples)
}

// centered は X と y を列平均で中心化したコピーを返す
func centered(X mat.Matrix, y mat.Vector) (Xc *mat.Dense, yc *mat.VecDense, xMean []float64, yMean float64) {
	r, c := X.Dims()
	xMean = make([]float64, c)
	for j := 0; j < c; j++ {
		var s float64
		for i := 0; i < r; i++ {
			s += X.At(i, j)
		}
		xMean[j] = s / float64(r)
	}
	for i := 0; i < r; i++ {
		yMean += y.AtVec(i)
	}
	yMean /= float64(r)

	Xc = mat.NewDense(r, c, nil)
	yc = mat.NewVecDense(r, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < c; j++ {
				Xc.Set(i, j, X.At(i, j)-xMean[j])
			}
			yc.SetVec(i, y.AtVec(i)-yMean)
		}
	})
	return Xc, yc, xMean, yMean
}
