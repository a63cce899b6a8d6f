package preprocessing

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// DefaultSmoothing はターゲットエンコーディングの既定の平滑化強度
const DefaultSmoothing = 10.0

func categories(c *dataset.Column) []string {
	seen := make(map[string]struct{})
	for _, v := range c.NonNullStrings() {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// OneHotEncoder はカテゴリ列を 0/1 の指示列 `{列}_{カテゴリ}` に展開する。
// ソート順で最初のカテゴリは基準として落とす。未知のカテゴリと欠損はすべて 0 になる。
type OneHotEncoder struct {
	model.StateManager

	// Columns は対象の列。空なら学習時のすべてのテキスト列。
	Columns []string

	// Features は学習時に対象となった列名
	Features []string

	// Categories は列ごとのソート済みカテゴリ
	Categories map[string][]string
}

func NewOneHotEncoder(columns ...string) *OneHotEncoder {
	return &OneHotEncoder{Columns: columns}
}

func (e *OneHotEncoder) Fit(t *dataset.Table, _ []float64) error {
	cols, err := resolveColumns(t, e.Columns, dataset.Text)
	if err != nil {
		return err
	}
	e.Features = cols
	e.Categories = make(map[string][]string, len(cols))
	for _, n := range cols {
		c, _ := t.Column(n)
		e.Categories[n] = categories(c)
	}
	e.SetFitted(len(cols), t.NumRows())
	return nil
}

// OutputNames は学習済みの列から生成される指示列名を返す
func (e *OneHotEncoder) OutputNames(column string) []string {
	cats := e.Categories[column]
	if len(cats) < 2 {
		return nil
	}
	names := make([]string, len(cats)-1)
	for i, cat := range cats[1:] {
		names[i] = column + "_" + cat
	}
	return names
}

func (e *OneHotEncoder) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := e.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	out := t
	for _, n := range e.Features {
		if err := requireType(t, n, dataset.Text); err != nil {
			return nil, err
		}
		c, _ := t.Column(n)
		cats := e.Categories[n]
		names := e.OutputNames(n)

		out = out.Drop(n)
		for k, name := range names {
			cat := cats[k+1]
			ind := make([]float64, c.Len())
			for i, v := range c.Str {
				if !c.Null[i] && v == cat {
					ind[i] = 1
				}
			}
			var err error
			if out, err = out.WithColumn(dataset.NewNumeric(name, ind)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// LabelEncoder はカテゴリをソート順の整数コード 0..k-1 に置き換える。
// 学習時に無かったカテゴリは ValidationError。欠損は欠損のまま残す。
type LabelEncoder struct {
	model.StateManager
	Columns  []string
	Features []string
	Classes  map[string][]string
}

func NewLabelEncoder(columns ...string) *LabelEncoder {
	return &LabelEncoder{Columns: columns}
}

func (e *LabelEncoder) Fit(t *dataset.Table, _ []float64) error {
	cols, err := resolveColumns(t, e.Columns, dataset.Text)
	if err != nil {
		return err
	}
	e.Features = cols
	e.Classes = make(map[string][]string, len(cols))
	for _, n := range cols {
		c, _ := t.Column(n)
		e.Classes[n] = categories(c)
	}
	e.SetFitted(len(cols), t.NumRows())
	return nil
}

func (e *LabelEncoder) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := e.RequireFitted("LabelEncoder", "Transform"); err != nil {
		return nil, err
	}
	out := t
	for _, n := range e.Features {
		if err := requireType(t, n, dataset.Text); err != nil {
			return nil, err
		}
		c, _ := t.Column(n)
		classes := e.Classes[n]
		codes := make([]float64, c.Len())
		for i, v := range c.Str {
			if c.Null[i] {
				codes[i] = math.NaN()
				continue
			}
			k := sort.SearchStrings(classes, v)
			if k == len(classes) || classes[k] != v {
				return nil, errors.NewValidationError(n, "unseen category", v)
			}
			codes[i] = float64(k)
		}
		var err error
		if out, err = out.WithColumn(dataset.NewNumeric(n, codes)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TargetEncoder はカテゴリを平滑化した目的変数の平均
// (n·mean_c + m·global) / (n + m) に置き換える。目的変数は学習時にだけ必要。
// 未知のカテゴリと欠損は全体平均になる。
type TargetEncoder struct {
	model.StateManager
	Columns   []string
	Smoothing float64
	Features  []string

	// Global は訓練データの目的変数の平均
	Global float64

	// Encodings は列ごとのカテゴリ→エンコード値
	Encodings map[string]map[string]float64
}

func NewTargetEncoder(smoothing float64, columns ...string) *TargetEncoder {
	return &TargetEncoder{Columns: columns, Smoothing: smoothing}
}

func (e *TargetEncoder) Fit(t *dataset.Table, y []float64) error {
	if y == nil {
		return errors.NewValidationError("y", "target encoding requires the target at fit time", nil)
	}
	if len(y) != t.NumRows() {
		return errors.NewDimensionError("TargetEncoder.Fit", t.NumRows(), len(y), 0)
	}
	if len(y) == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	cols, err := resolveColumns(t, e.Columns, dataset.Text)
	if err != nil {
		return err
	}
	m := e.Smoothing
	if m < 0 {
		return errors.NewValidationError("smoothing", "must be >= 0", m)
	}

	global := 0.0
	for _, v := range y {
		global += v
	}
	global /= float64(len(y))

	e.Features = cols
	e.Global = global
	e.Encodings = make(map[string]map[string]float64, len(cols))
	for _, n := range cols {
		c, _ := t.Column(n)
		sums := make(map[string]float64)
		counts := make(map[string]float64)
		for i, v := range c.Str {
			if c.Null[i] {
				continue
			}
			sums[v] += y[i]
			counts[v]++
		}
		enc := make(map[string]float64, len(sums))
		for cat, s := range sums {
			cnt := counts[cat]
			enc[cat] = (s + m*global) / (cnt + m)
		}
		e.Encodings[n] = enc
	}
	e.SetFitted(len(cols), t.NumRows())
	return nil
}

func (e *TargetEncoder) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := e.RequireFitted("TargetEncoder", "Transform"); err != nil {
		return nil, err
	}
	out := t
	for _, n := range e.Features {
		if err := requireType(t, n, dataset.Text); err != nil {
			return nil, err
		}
		c, _ := t.Column(n)
		enc := e.Encodings[n]
		vals := make([]float64, c.Len())
		for i, v := range c.Str {
			code, ok := enc[v]
			if c.Null[i] || !ok {
				code = e.Global
			}
			vals[i] = code
		}
		var err error
		if out, err = out.WithColumn(dataset.NewNumeric(n, vals)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NewEncoder は設定のメソッド名からエンコーダを作成する
func NewEncoder(method string, smoothing float64, columns ...string) (Transformer, error) {
	switch method {
	case "onehot", "":
		return NewOneHotEncoder(columns...), nil
	case "label":
		return NewLabelEncoder(columns...), nil
	case "target":
		return NewTargetEncoder(smoothing, columns...), nil
	default:
		return nil, errors.NewConfigurationError("feature_engineering.encoding.method", method, "onehot", "label", "target")
	}
}
