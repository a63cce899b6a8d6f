// Package decomposition は主成分分析による次元削減を提供します。
package decomposition

import (
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

func init() {
	gob.Register(&PCA{})
}

// ComponentName は i 番目（0 始まり）の主成分の列名を返す
func ComponentName(i int) string {
	return fmt.Sprintf("pca_component_%d", i+1)
}

// PCA はすべての数値列を主成分に射影する。
// NComponents > 0 なら成分数、そうでなく VarianceRatio が (0,1) なら
// 累積寄与率がその値に達する最小の成分数を保持する。どちらも 0 なら全成分。
type PCA struct {
	model.StateManager
	NComponents   int
	VarianceRatio float64

	// 学習済みの状態
	Inputs                 []string
	Mean                   []float64
	Components             [][]float64 // 行 i が第 i 主成分の方向
	ExplainedVariance      []float64
	ExplainedVarianceRatio []float64
}

// NewPCA は n の値から PCA を作成する。n ≥ 1 は成分数、(0,1) は寄与率として扱う。
func NewPCA(n float64) (*PCA, error) {
	switch {
	case n >= 1 && n == math.Trunc(n):
		return &PCA{NComponents: int(n)}, nil
	case n > 0 && n < 1:
		return &PCA{VarianceRatio: n}, nil
	default:
		return nil, errors.NewValidationError("n_components", "must be an integer >= 1 or a fraction in (0, 1)", n)
	}
}

func (p *PCA) Fit(t *dataset.Table, _ []float64) error {
	names := t.NumericColumns()
	X, err := t.Matrix(names...)
	if err != nil {
		return err
	}
	r, c := X.Dims()
	if r < 2 {
		return errors.NewValidationError("rows", "PCA needs at least 2 rows", r)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(X, nil) {
		return errors.NewModelError("PCA.Fit", "decomposition failed", errors.ErrSingularMatrix)
	}
	vars := pc.VarsTo(nil)
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	total := floats.Sum(vars)
	ratios := make([]float64, len(vars))
	for i, v := range vars {
		ratios[i] = errors.SafeDivide(v, total)
	}
	k, err := p.components(ratios)
	if err != nil {
		return err
	}

	p.Inputs = names
	p.Mean = make([]float64, c)
	col := make([]float64, r)
	for j := range p.Mean {
		mat.Col(col, j, X)
		p.Mean[j] = stat.Mean(col, nil)
	}
	p.Components = make([][]float64, k)
	for i := 0; i < k; i++ {
		p.Components[i] = flipSign(mat.Col(nil, i, &vecs))
	}
	p.ExplainedVariance = vars[:k]
	p.ExplainedVarianceRatio = ratios[:k]
	p.SetFitted(c, r)
	return nil
}

func (p *PCA) components(ratios []float64) (int, error) {
	available := len(ratios)
	switch {
	case p.NComponents > 0:
		return min(p.NComponents, available), nil
	case p.VarianceRatio > 0 && p.VarianceRatio < 1:
		var cum float64
		for i, r := range ratios {
			cum += r
			if cum >= p.VarianceRatio-1e-12 {
				return i + 1, nil
			}
		}
		return available, nil
	case p.NComponents == 0 && p.VarianceRatio == 0:
		return available, nil
	default:
		return 0, errors.NewValidationError("n_components", "invalid component specification", p.VarianceRatio)
	}
}

// flipSign は絶対値最大の要素が正になるよう向きを揃える（SVD の符号の任意性を除く）
func flipSign(v []float64) []float64 {
	if v[floats.MaxIdx(absAll(v))] < 0 {
		floats.Scale(-1, v)
	}
	return v
}

func absAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Abs(x)
	}
	return out
}

// Transform は学習時の数値列を主成分に置き換える。数値以外の列はそのまま残る。
func (p *PCA) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := p.RequireFitted("PCA", "Transform"); err != nil {
		return nil, err
	}
	X, err := t.Matrix(p.Inputs...)
	if err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	out := t.Drop(p.Inputs...)
	row := make([]float64, len(p.Inputs))
	scores := make([][]float64, len(p.Components))
	for i := range scores {
		scores[i] = make([]float64, r)
	}
	for n := 0; n < r; n++ {
		mat.Row(row, n, X)
		floats.Sub(row, p.Mean)
		for i, comp := range p.Components {
			scores[i][n] = floats.Dot(row, comp)
		}
	}
	for i, s := range scores {
		if out, err = out.WithColumn(dataset.NewNumeric(ComponentName(i), s)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TotalExplainedRatio は保持した成分の寄与率の合計
func (p *PCA) TotalExplainedRatio() float64 {
	return floats.Sum(p.ExplainedVarianceRatio)
}
