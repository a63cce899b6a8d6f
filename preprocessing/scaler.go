package preprocessing

import (
	"fmt"
	"sort"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/stats"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// zeroSpread 未満の広がりを持つ列はスケール 1 として扱う
const zeroSpread = 1e-12

// Affine は列ごとに (v - Center) / Scale を適用する学習済み状態
type Affine struct {
	model.StateManager

	// Features は学習時に対象となった列名
	Features []string

	// Center は各列から引く値
	Center []float64

	// Scale は各列を割る値（0 にはならない）
	Scale []float64
}

func (a *Affine) fit(name string, t *dataset.Table, columns []string, stat func(values []float64) (center, scale float64)) error {
	cols, err := resolveColumns(t, columns, dataset.Numeric)
	if err != nil {
		return err
	}
	a.Features = cols
	a.Center = make([]float64, len(cols))
	a.Scale = make([]float64, len(cols))
	for j, n := range cols {
		c, _ := t.Column(n)
		values := c.NonNull()
		if len(values) == 0 {
			return errors.NewValidationError(n, name+": column has no values", nil)
		}
		center, scale := stat(values)
		if scale < zeroSpread {
			scale = 1
		}
		a.Center[j], a.Scale[j] = center, scale
	}
	a.SetFitted(len(cols), t.NumRows())
	return nil
}

func (a *Affine) transform(name string, t *dataset.Table) (*dataset.Table, error) {
	if err := a.RequireFitted(name, "Transform"); err != nil {
		return nil, err
	}
	out := t
	for j, n := range a.Features {
		center, scale := a.Center[j], a.Scale[j]
		var err error
		if out, err = mapNumeric(out, n, func(v float64) float64 { return (v - center) / scale }); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// StandardScaler は scikit-learn 互換の標準化スケーラー。
// データを平均 0、標準偏差 1 に変換する。標準偏差は母標準偏差を使う。
type StandardScaler struct {
	Affine

	// Columns は対象の列。空なら学習時のすべての数値列。
	Columns []string
}

// NewStandardScaler は新しい StandardScaler を作成する
//
// パラメータ:
//   - columns: 対象列（省略時はすべての数値列）
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler("area", "rooms")
//	trainScaled, err := preprocessing.FitTransform(scaler, train, nil)
//	testScaled, err := scaler.Transform(test)
func NewStandardScaler(columns ...string) *StandardScaler {
	return &StandardScaler{Columns: columns}
}

// Fit は訓練データから各列の平均と標準偏差を計算する
func (s *StandardScaler) Fit(t *dataset.Table, _ []float64) error {
	return s.fit("StandardScaler", t, s.Columns, func(v []float64) (float64, float64) {
		return stats.Mean(v), stats.PopulationStd(v)
	})
}

// Transform は学習済みの統計情報でデータを標準化する
func (s *StandardScaler) Transform(t *dataset.Table) (*dataset.Table, error) {
	return s.transform("StandardScaler", t)
}

func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return "StandardScaler()"
	}
	return fmt.Sprintf("StandardScaler(n_features=%d)", s.NFeatures)
}

// MinMaxScaler はデータを [0, 1] に線形変換する。
// 定数列は範囲 1 として扱い、すべて 0 になる。
type MinMaxScaler struct {
	Affine
	Columns []string
}

// NewMinMaxScaler は新しい MinMaxScaler を作成する
func NewMinMaxScaler(columns ...string) *MinMaxScaler {
	return &MinMaxScaler{Columns: columns}
}

// Fit は訓練データの最小値と最大値を記録する
func (m *MinMaxScaler) Fit(t *dataset.Table, _ []float64) error {
	return m.fit("MinMaxScaler", t, m.Columns, func(v []float64) (float64, float64) {
		lo, hi := stats.MinMax(v)
		return lo, hi - lo
	})
}

// Transform は学習済みの範囲で変換する。訓練範囲外の値は [0, 1] の外に出る。
func (m *MinMaxScaler) Transform(t *dataset.Table) (*dataset.Table, error) {
	return m.transform("MinMaxScaler", t)
}

// RobustScaler は中央値を引き四分位範囲で割る。外れ値の影響を受けにくい。
type RobustScaler struct {
	Affine
	Columns []string
}

// NewRobustScaler は新しい RobustScaler を作成する
func NewRobustScaler(columns ...string) *RobustScaler {
	return &RobustScaler{Columns: columns}
}

// Fit は訓練データの中央値と四分位範囲を計算する
func (r *RobustScaler) Fit(t *dataset.Table, _ []float64) error {
	return r.fit("RobustScaler", t, r.Columns, func(v []float64) (float64, float64) {
		sorted := append([]float64(nil), v...)
		sort.Float64s(sorted)
		q1 := stats.QuantileSorted(sorted, 0.25)
		q3 := stats.QuantileSorted(sorted, 0.75)
		return stats.QuantileSorted(sorted, 0.5), q3 - q1
	})
}

// Transform は学習済みの中央値と四分位範囲で変換する
func (r *RobustScaler) Transform(t *dataset.Table) (*dataset.Table, error) {
	return r.transform("RobustScaler", t)
}

// NewScaler は設定のメソッド名からスケーラーを作成する
func NewScaler(method string, columns ...string) (Transformer, error) {
	switch method {
	case "standard", "":
		return NewStandardScaler(columns...), nil
	case "minmax":
		return NewMinMaxScaler(columns...), nil
	case "robust":
		return NewRobustScaler(columns...), nil
	default:
		return nil, errors.NewConfigurationError("feature_engineering.scaling.method", method, "standard", "minmax", "robust")
	}
}
