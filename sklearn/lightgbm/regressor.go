package lightgbm

import (
	"context"
	"encoding/gob"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

func init() {
	gob.Register(&Regressor{})
}

// TrainingParams は学習のハイパーパラメータ
type TrainingParams struct {
	NumIterations   int
	LearningRate    float64
	NumLeaves       int
	MaxDepth        int // 0 以下は無制限
	MinDataInLeaf   int
	Lambda          float64
	MaxBin          int
	BaggingFraction float64
	FeatureFraction float64
	Seed            int
}

// DefaultParams は LightGBM の既定値に合わせたパラメータ
func DefaultParams() TrainingParams {
	return TrainingParams{
		NumIterations:   100,
		LearningRate:    0.1,
		NumLeaves:       31,
		MaxDepth:        -1,
		MinDataInLeaf:   20,
		Lambda:          0,
		MaxBin:          255,
		BaggingFraction: 1.0,
		FeatureFraction: 1.0,
		Seed:            42,
	}
}

func (p TrainingParams) validate() error {
	switch {
	case p.NumIterations < 1:
		return errors.NewValidationError("n_estimators", "must be >= 1", p.NumIterations)
	case p.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be > 0", p.LearningRate)
	case p.NumLeaves < 2:
		return errors.NewValidationError("num_leaves", "must be >= 2", p.NumLeaves)
	case p.MinDataInLeaf < 1:
		return errors.NewValidationError("min_child_samples", "must be >= 1", p.MinDataInLeaf)
	case p.Lambda < 0:
		return errors.NewValidationError("reg_lambda", "must be >= 0", p.Lambda)
	case p.MaxBin < 2 || p.MaxBin > 65535:
		return errors.NewValidationError("max_bin", "must be in [2, 65535]", p.MaxBin)
	case p.BaggingFraction <= 0 || p.BaggingFraction > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", p.BaggingFraction)
	case p.FeatureFraction <= 0 || p.FeatureFraction > 1:
		return errors.NewValidationError("colsample_bytree", "must be in (0, 1]", p.FeatureFraction)
	}
	return nil
}

// scikit-learn 形式のパラメータ名
var paramKeys = []string{
	"n_estimators", "learning_rate", "num_leaves", "max_depth", "min_child_samples",
	"reg_lambda", "max_bin", "subsample", "colsample_bytree", "random_state",
}

// Params はパラメータを scikit-learn 形式の名前で返す
func (p TrainingParams) Params() model.Params {
	return model.Params{
		"n_estimators":      p.NumIterations,
		"learning_rate":     p.LearningRate,
		"num_leaves":        p.NumLeaves,
		"max_depth":         p.MaxDepth,
		"min_child_samples": p.MinDataInLeaf,
		"reg_lambda":        p.Lambda,
		"max_bin":           p.MaxBin,
		"subsample":         p.BaggingFraction,
		"colsample_bytree":  p.FeatureFraction,
		"random_state":      p.Seed,
	}
}

func (p TrainingParams) merge(params model.Params) (TrainingParams, error) {
	if err := params.CheckKeys(paramKeys...); err != nil {
		return p, err
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"n_estimators", &p.NumIterations},
		{"num_leaves", &p.NumLeaves},
		{"max_depth", &p.MaxDepth},
		{"min_child_samples", &p.MinDataInLeaf},
		{"max_bin", &p.MaxBin},
		{"random_state", &p.Seed},
	}
	for _, f := range ints {
		v, err := params.Int(f.key, *f.dst)
		if err != nil {
			return p, err
		}
		*f.dst = v
	}
	fls := []struct {
		key string
		dst *float64
	}{
		{"learning_rate", &p.LearningRate},
		{"reg_lambda", &p.Lambda},
		{"subsample", &p.BaggingFraction},
		{"colsample_bytree", &p.FeatureFraction},
	}
	for _, f := range fls {
		v, err := params.Float(f.key, *f.dst)
		if err != nil {
			return p, err
		}
		*f.dst = v
	}
	return p, p.validate()
}

// Regressor はヒストグラム勾配ブースティングによる回帰器
type Regressor struct {
	model.StateManager
	TrainingParams

	InitScore float64
	Trees     []Tree
	Bins      *BinMapper

	logger log.Logger
}

// NewRegressor は既定パラメータの回帰器を作成する
func NewRegressor() *Regressor {
	return &Regressor{TrainingParams: DefaultParams()}
}

// WithLogger は学習の進捗を出力するロガーを設定する
func (r *Regressor) WithLogger(l log.Logger) *Regressor {
	r.logger = l
	return r
}

func (r *Regressor) Params() model.Params {
	return r.TrainingParams.Params()
}

func (r *Regressor) SetParams(params model.Params) error {
	next, err := r.TrainingParams.merge(params)
	if err != nil {
		return err
	}
	r.TrainingParams = next
	return nil
}

func (r *Regressor) NFeatures() int {
	return r.StateManager.NFeatures
}

// leaf は成長中の葉
type leaf struct {
	node  int
	rows  []int
	depth int
	hists []histogram
	split splitInfo
}

// trainer は 1 回の Fit の作業領域
type trainer struct {
	p        TrainingParams
	data     binned
	bins     *BinMapper
	grad     []float64
	hess     []float64
	features []int
}

func (r *Regressor) Fit(X mat.Matrix, y mat.Vector) error {
	if err := r.validate(); err != nil {
		return err
	}
	n, c, err := model.CheckFitInput("LightGBM.Fit", X, y)
	if err != nil {
		return err
	}
	logger := log.OrDefault(r.logger, "lightgbm")
	target := mat.Col(nil, 0, y)
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}

	seed := uint64(r.Seed)
	rng := rand.New(rand.NewPCG(seed, seed))
	bins := NewBinMapper(X, r.MaxBin)
	t := &trainer{
		p:    r.TrainingParams,
		data: bins.transform(X),
		bins: bins,
		grad: make([]float64, n),
		hess: make([]float64, n),
	}

	r.InitScore = floats.Sum(target) / float64(n)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = r.InitScore
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	allFeatures := make([]int, c)
	for j := range allFeatures {
		allFeatures[j] = j
	}

	r.Trees = make([]Tree, 0, r.NumIterations)
	for iter := 0; iter < r.NumIterations; iter++ {
		// 二乗誤差の勾配 (pred - y) とヘッセ行列 1
		for i := range pred {
			t.grad[i] = pred[i] - target[i]
			t.hess[i] = 1
		}
		sample := all
		if r.BaggingFraction < 1 {
			sample = sampleSorted(rng, n, max(int(r.BaggingFraction*float64(n)), 1))
		}
		t.features = allFeatures
		if r.FeatureFraction < 1 {
			t.features = sampleSorted(rng, c, max(int(r.FeatureFraction*float64(c)), 1))
		}

		tree := t.grow(sample)
		for i, row := range rows {
			pred[i] += tree.Predict(row)
		}
		r.Trees = append(r.Trees, tree)
		if logger.Enabled(context.Background(), log.LevelDebug) {
			logger.Debug("boosting iteration", log.IterationKey, iter, "leaves", tree.NumLeaves())
		}
	}
	r.Bins = bins
	r.SetFitted(c, n)
	return nil
}

// sampleSorted は [0, n) から k 個を非復元抽出して昇順で返す
func sampleSorted(rng *rand.Rand, n, k int) []int {
	out := rng.Perm(n)[:min(k, n)]
	sort.Ints(out)
	return out
}

// grow は葉ごとの成長で 1 本の木を作る
func (t *trainer) grow(rows []int) Tree {
	tree := Tree{}
	root := t.newLeaf(&tree, rows, 0, buildHistograms(t.data, t.bins, t.features, rows, t.grad, t.hess))
	leaves := []*leaf{root}

	for len(leaves) < t.p.NumLeaves {
		bestIdx := -1
		for i, l := range leaves {
			if l.split.valid && (bestIdx < 0 || l.split.gain > leaves[bestIdx].split.gain) {
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		l := leaves[bestIdx]
		s := l.split
		var left, right []int
		col := t.data.bins[s.feature]
		for _, r := range l.rows {
			if int(col[r]) <= s.bin {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}

		// 小さい方の子だけ集計し、もう一方は親との差で求める
		small, large := left, right
		if len(small) > len(large) {
			small, large = large, small
		}
		smallHist := buildHistograms(t.data, t.bins, t.features, small, t.grad, t.hess)
		largeHist := subtract(l.hists, smallHist, t.features)
		leftHist, rightHist := smallHist, largeHist
		if len(left) > len(right) {
			leftHist, rightHist = largeHist, smallHist
		}

		parent := &tree.Nodes[l.node]
		parent.SplitFeature = s.feature
		parent.Threshold = t.bins.Threshold(s.feature, s.bin)
		parent.Gain = s.gain
		parent.DefaultLeft = len(left) >= len(right)
		lc := t.newLeaf(&tree, left, l.depth+1, leftHist)
		rc := t.newLeaf(&tree, right, l.depth+1, rightHist)
		tree.Nodes[l.node].LeftChild, tree.Nodes[l.node].RightChild = lc.node, rc.node

		leaves[bestIdx] = lc
		leaves = append(leaves, rc)
	}
	return tree
}

func (t *trainer) newLeaf(tree *Tree, rows []int, depth int, hists []histogram) *leaf {
	var g, h float64
	for _, r := range rows {
		g += t.grad[r]
		h += t.hess[r]
	}
	node := len(tree.Nodes)
	tree.Nodes = append(tree.Nodes, Node{
		SplitFeature: -1,
		LeftChild:    -1,
		RightChild:   -1,
		LeafValue:    -g / (h + t.p.Lambda) * t.p.LearningRate,
		Count:        len(rows),
	})
	l := &leaf{node: node, rows: rows, depth: depth, hists: hists}
	if t.p.MaxDepth <= 0 || depth < t.p.MaxDepth {
		l.split = bestSplit(hists, t.features, t.p.MinDataInLeaf, t.p.Lambda)
	}
	return l
}

func subtract(parent, child []histogram, features []int) []histogram {
	out := make([]histogram, len(parent))
	for _, j := range features {
		p, c := parent[j], child[j]
		h := histogram{
			grad:  make([]float64, len(p.grad)),
			hess:  make([]float64, len(p.hess)),
			count: make([]int, len(p.count)),
		}
		for b := range p.grad {
			h.grad[b] = p.grad[b] - c.grad[b]
			h.hess[b] = p.hess[b] - c.hess[b]
			h.count[b] = p.count[b] - c.count[b]
		}
		out[j] = h
	}
	return out
}

func (r *Regressor) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if err := r.CheckPredict("LightGBM", X); err != nil {
		return nil, err
	}
	n, c := X.Dims()
	out := mat.NewVecDense(n, nil)
	row := make([]float64, c)
	for i := 0; i < n; i++ {
		mat.Row(row, i, X)
		v := r.InitScore
		for k := range r.Trees {
			v += r.Trees[k].Predict(row)
		}
		out.SetVec(i, v)
	}
	return out, nil
}

// FeatureImportances は分割ゲインの合計を正規化した重要度
func (r *Regressor) FeatureImportances() []float64 {
	out := make([]float64, r.StateManager.NFeatures)
	for k := range r.Trees {
		for _, n := range r.Trees[k].Nodes {
			if !n.IsLeaf() {
				out[n.SplitFeature] += n.Gain
			}
		}
	}
	if s := floats.Sum(out); s > 0 {
		floats.Scale(1/s, out)
	}
	return out
}
