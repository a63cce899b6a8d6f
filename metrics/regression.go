// Package metrics は回帰モデルの評価指標を提供します。
// すべての関数は (正解, 予測) だけに依存する純粋関数です。
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

func checkPair(op string, yTrue, yPred mat.Vector) (int, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.WithStack(errors.ErrEmptyData)
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// RMSE は平方根平均二乗誤差（Root Mean Squared Error）を計算する
func RMSE(yTrue, yPred mat.Vector) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差（Mean Absolute Error）を計算する
func MAE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}
	return sum / float64(n), nil
}

// MedianAE は絶対誤差の中央値を計算する。外れ値に頑健。
func MedianAE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MedianAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	abs := make([]float64, n)
	for i := range abs {
		abs[i] = math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}
	sort.Float64s(abs)
	if n%2 == 1 {
		return abs[n/2], nil
	}
	return (abs[n/2-1] + abs[n/2]) / 2, nil
}

// MaxError は最大絶対誤差を計算する
func MaxError(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MaxError", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var worst float64
	for i := 0; i < n; i++ {
		worst = math.Max(worst, math.Abs(yTrue.AtVec(i)-yPred.AtVec(i)))
	}
	return worst, nil
}

// R2Score は決定係数（R²）を計算する。
// yTrue が定数の場合、完全一致なら 1、そうでなければ 0 を返す。
func R2Score(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var yMean float64
	for i := 0; i < n; i++ {
		yMean += yTrue.AtVec(i)
	}
	yMean /= float64(n)

	// 全変動（TSS）と残差変動（RSS）
	var tss, rss float64
	for i := 0; i < n; i++ {
		t, p := yTrue.AtVec(i), yPred.AtVec(i)
		tss += (t - yMean) * (t - yMean)
		rss += (t - p) * (t - p)
	}
	if tss == 0 {
		if rss == 0 {
			return 1, nil
		}
		return 0, nil
	}

	// R² = 1 - RSS/TSS
	return 1 - rss/tss, nil
}

// ExplainedVarianceScore は説明分散スコア 1 - Var(yTrue - yPred) / Var(yTrue) を計算する
func ExplainedVarianceScore(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("ExplainedVarianceScore", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var yTrueMean, diffMean float64
	for i := 0; i < n; i++ {
		yTrueMean += yTrue.AtVec(i)
		diffMean += yTrue.AtVec(i) - yPred.AtVec(i)
	}
	yTrueMean /= float64(n)
	diffMean /= float64(n)

	var varYTrue, varDiff float64
	for i := 0; i < n; i++ {
		t := yTrue.AtVec(i)
		diff := t - yPred.AtVec(i)
		varYTrue += (t - yTrueMean) * (t - yTrueMean)
		varDiff += (diff - diffMean) * (diff - diffMean)
	}
	if varYTrue == 0 {
		if varDiff == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - varDiff/varYTrue, nil
}

// MAPE は平均絶対パーセンテージ誤差（%）を計算する。
// 正解に 0 が含まれる場合は比率が定義できないため NumericError を返す。
func MAPE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MAPE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		t := yTrue.AtVec(i)
		if t == 0 {
			return 0, errors.NewNumericError("MAPE", "true value is zero; percentage error is undefined")
		}
		sum += math.Abs(t-yPred.AtVec(i)) / math.Abs(t)
	}
	return sum / float64(n) * 100, nil
}

// Report はホールドアウト評価の指標一式
type Report struct {
	MSE               float64 `json:"mse"`
	RMSE              float64 `json:"rmse"`
	MAE               float64 `json:"mae"`
	MedianAE          float64 `json:"median_ae"`
	R2                float64 `json:"r2"`
	ExplainedVariance float64 `json:"explained_variance"`
	MaxError          float64 `json:"max_error"`
}

// Get は指標名から値を引く。ランキング指標の解決に使う。
func (r Report) Get(name string) (float64, error) {
	switch name {
	case "mse":
		return r.MSE, nil
	case "rmse":
		return r.RMSE, nil
	case "mae":
		return r.MAE, nil
	case "median_ae":
		return r.MedianAE, nil
	case "r2":
		return r.R2, nil
	case "explained_variance":
		return r.ExplainedVariance, nil
	case "max_error":
		return r.MaxError, nil
	default:
		return 0, errors.NewConfigurationError("metric", name,
			"mse", "rmse", "mae", "median_ae", "r2", "explained_variance", "max_error")
	}
}

// GreaterIsBetter は大きいほど良い指標なら true。誤差系の指標は false
func GreaterIsBetter(name string) bool {
	return name == "r2" || name == "explained_variance"
}

// Map は指標名→値の対応を返す
func (r Report) Map() map[string]float64 {
	return map[string]float64{
		"mse":                r.MSE,
		"rmse":               r.RMSE,
		"mae":                r.MAE,
		"median_ae":          r.MedianAE,
		"r2":                 r.R2,
		"explained_variance": r.ExplainedVariance,
		"max_error":          r.MaxError,
	}
}

// Evaluate はすべての回帰指標を計算する
func Evaluate(yTrue, yPred mat.Vector) (Report, error) {
	if _, err := checkPair("Evaluate", yTrue, yPred); err != nil {
		return Report{}, err
	}
	var r Report
	// 入力検証は済んでいるので個々の指標はエラーを返さない
	r.MSE, _ = MSE(yTrue, yPred)
	r.RMSE = math.Sqrt(r.MSE)
	r.MAE, _ = MAE(yTrue, yPred)
	r.MedianAE, _ = MedianAE(yTrue, yPred)
	r.R2, _ = R2Score(yTrue, yPred)
	r.ExplainedVariance, _ = ExplainedVarianceScore(yTrue, yPred)
	r.MaxError, _ = MaxError(yTrue, yPred)
	return r, nil
}

// EvaluateModel は学習済み est でホールドアウトの X を予測し、y と比較する
func EvaluateModel(est model.Predictor, X mat.Matrix, y mat.Vector) (Report, error) {
	pred, err := est.Predict(X)
	if err != nil {
		return Report{}, err
	}
	return Evaluate(y, pred)
}
