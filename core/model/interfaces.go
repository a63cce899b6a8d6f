// Package model はパイプライン全体で共有される推定器・変換器の契約を定義します。
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる。y の長さは X の行数と一致しなければならない。
	Fit(X mat.Matrix, y mat.Vector) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は X の各行に対する予測値を返す
	Predict(X mat.Matrix) (*mat.VecDense, error)
}

// Regressor は回帰推定器の共通インターフェース。
// 学習済みの状態はすべて公開フィールドに保持され、gob でそのまま永続化できる。
type Regressor interface {
	Fitter
	Predictor

	// Params は現在のハイパーパラメータを返す
	Params() Params

	// SetParams はハイパーパラメータを上書きする。未知のキーはエラー。
	SetParams(params Params) error

	// NFeatures は学習時の特徴量数を返す。未学習なら 0。
	NFeatures() int
}

// FeatureImporter は特徴量重要度を公開するモデル（木系モデル）
type FeatureImporter interface {
	// FeatureImportances は合計 1 に正規化された重要度を返す
	FeatureImportances() []float64
}

// Coefficienter は線形係数を公開するモデル
type Coefficienter interface {
	Coefficients() []float64
	Intercept() float64
}

// Factory は新しい未学習の推定器を生成する。交差検証の各 fold で独立したインスタンスを得るために使う。
type Factory func() (Regressor, error)

// Importances は est が重要度を提供できれば、その値（係数の場合は絶対値）を返す。
func Importances(est Regressor) ([]float64, bool) {
	switch m := est.(type) {
	case FeatureImporter:
		return m.FeatureImportances(), true
	case Coefficienter:
		coef := m.Coefficients()
		out := make([]float64, len(coef))
		for i, c := range coef {
			if c < 0 {
				c = -c
			}
			out[i] = c
		}
		return out, true
	default:
		return nil, false
	}
}
