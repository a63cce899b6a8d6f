// Package preprocessing は特徴量エンジニアリングの変換器を提供します。
//
// すべての変換器は訓練データの Fit で状態を学習し、検証・テストデータには
// 同じ状態を再適用するだけで再学習しません。学習済みの状態は公開フィールドに
// 保持されるため、Engineer ごと gob でアーティファクトに保存できます。
package preprocessing

import (
	"encoding/gob"
	"math"

	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Transformer はテーブルを学習・変換する前処理の共通インターフェース
type Transformer interface {
	// Fit は訓練テーブル（と必要なら目的変数）から状態を学習する
	Fit(t *dataset.Table, y []float64) error

	// Transform は学習済みの状態でテーブルを変換する。再学習はしない。
	Transform(t *dataset.Table) (*dataset.Table, error)
}

// FitTransform は tr を t で学習し、同じ t を変換する
func FitTransform(tr Transformer, t *dataset.Table, y []float64) (*dataset.Table, error) {
	if err := tr.Fit(t, y); err != nil {
		return nil, err
	}
	return tr.Transform(t)
}

func init() {
	gob.Register(&StandardScaler{})
	gob.Register(&MinMaxScaler{})
	gob.Register(&RobustScaler{})
	gob.Register(&OneHotEncoder{})
	gob.Register(&LabelEncoder{})
	gob.Register(&TargetEncoder{})
	gob.Register(&TimeFeatures{})
	gob.Register(&LogTransformer{})
	gob.Register(&PowerTransformer{})
	gob.Register(&PolynomialFeatures{})
	gob.Register(&DropColumns{})
	gob.Register(&DropNonNumeric{})
}

// resolveColumns は指定列（空なら typ の全列）を返し、存在と型を検証する
func resolveColumns(t *dataset.Table, names []string, typ dataset.ColumnType) ([]string, error) {
	if len(names) == 0 {
		switch typ {
		case dataset.Numeric:
			return t.NumericColumns(), nil
		case dataset.Text:
			return t.TextColumns(), nil
		default:
			return t.TimeColumns(), nil
		}
	}
	for _, n := range names {
		if err := requireType(t, n, typ); err != nil {
			return nil, err
		}
	}
	return append([]string(nil), names...), nil
}

func requireType(t *dataset.Table, name string, typ dataset.ColumnType) error {
	c, err := t.RequireColumn(name)
	if err != nil {
		return err
	}
	if c.Type != typ {
		return errors.NewValidationError(name, "expected a "+typ.String()+" column", c.Type.String())
	}
	return nil
}

// numericColumn は学習済みの列が変換時にも数値列として存在することを確認する
func numericColumn(t *dataset.Table, name string) (*dataset.Column, error) {
	if err := requireType(t, name, dataset.Numeric); err != nil {
		return nil, err
	}
	c, _ := t.Column(name)
	return c, nil
}

// mapNumeric は列 name の各非欠損値に f を適用した新しい列で t を置き換える
func mapNumeric(t *dataset.Table, name string, f func(v float64) float64) (*dataset.Table, error) {
	c, err := numericColumn(t, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, c.Len())
	for i, v := range c.Num {
		if c.Null[i] {
			out[i] = math.NaN()
			continue
		}
		out[i] = f(v)
	}
	return t.WithColumn(dataset.NewNumeric(name, out))
}

// DropColumns は指定列を取り除く。存在しない列は無視する。
type DropColumns struct {
	Columns []string
}

func (d *DropColumns) Fit(*dataset.Table, []float64) error { return nil }

func (d *DropColumns) Transform(t *dataset.Table) (*dataset.Table, error) {
	return t.Drop(d.Columns...), nil
}

// DropNonNumeric は学習時に数値でなかった列（元の日付列や未エンコードのカテゴリ列）を取り除く。
// 推定器には数値行列だけを渡すため、エンコードとスケーリングの間に置く。
type DropNonNumeric struct {
	Dropped []string
}

func (d *DropNonNumeric) Fit(t *dataset.Table, _ []float64) error {
	d.Dropped = append(t.TextColumns(), t.TimeColumns()...)
	return nil
}

func (d *DropNonNumeric) Transform(t *dataset.Table) (*dataset.Table, error) {
	out := t.Drop(d.Dropped...)
	if rest := append(out.TextColumns(), out.TimeColumns()...); len(rest) > 0 {
		return nil, errors.NewValidationError(rest[0], "column was not present at fit time", nil)
	}
	return out, nil
}
