// Package tree は二乗誤差を分割基準とする CART 回帰木を提供します。
//
// Grow は行の部分集合から木を成長させる低水準の関数で、ensemble パッケージの
// ランダムフォレストと勾配ブースティングもこれを基底学習器として使います。
package tree

import (
	"encoding/gob"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

func init() {
	gob.Register(&Regressor{})
}

// minGain 未満の改善しか得られない分割は行わない
const minGain = 1e-12

// Leaf は Node.Feature が葉を表すときの値
const Leaf = -1

// Node は木のノード。葉では Feature == Leaf で Value が予測値。
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Samples   int
}

// IsLeaf は葉ノードなら true
func (n *Node) IsLeaf() bool {
	return n.Feature == Leaf
}

// Config は木の成長を制御する
type Config struct {
	MaxDepth        int     // 0 は無制限
	MinSamplesSplit int     // 分割に必要な最小サンプル数
	MinSamplesLeaf  int     // 葉の最小サンプル数
	MaxFeatures     float64 // 各分割で考慮する特徴量の割合 (0,1]。0 は全特徴量。
}

func (c Config) validate() error {
	switch {
	case c.MaxDepth < 0:
		return errors.NewValidationError("max_depth", "must be >= 0", c.MaxDepth)
	case c.MinSamplesSplit < 2:
		return errors.NewValidationError("min_samples_split", "must be >= 2", c.MinSamplesSplit)
	case c.MinSamplesLeaf < 1:
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", c.MinSamplesLeaf)
	case c.MaxFeatures < 0 || c.MaxFeatures > 1:
		return errors.NewValidationError("max_features", "must be in (0, 1]", c.MaxFeatures)
	}
	return nil
}

// Tree は成長済みの木。Gains は特徴量ごとの二乗誤差の減少量の合計（未正規化）。
type Tree struct {
	Nodes []Node
	Gains []float64
}

// PredictRow は 1 行分の予測値を返す
func (t *Tree) PredictRow(row []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth は根を深さ 0 とした最大の深さ
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// NumLeaves は葉の数
func (t *Tree) NumLeaves() int {
	count := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			count++
		}
	}
	return count
}

// builder は 1 本の木の成長中の状態
type builder struct {
	X    mat.Matrix
	y    []float64
	cfg  Config
	rng  *rand.Rand
	tree *Tree
	nF   int
}

// split は探索中の最良の分割
type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// Grow は rows が指す行（重複可）から木を成長させる。
// MaxFeatures < 1 のときだけ rng を使って特徴量を抽出する。
func Grow(X mat.Matrix, y []float64, rows []int, cfg Config, rng *rand.Rand) (*Tree, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	_, c := X.Dims()
	b := &builder{X: X, y: y, cfg: cfg, rng: rng, nF: c, tree: &Tree{Gains: make([]float64, c)}}
	b.build(append([]int(nil), rows...), 0)
	return b.tree, nil
}

func (b *builder) build(rows []int, depth int) int {
	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: Leaf, Left: -1, Right: -1, Value: b.mean(rows), Samples: len(rows)})

	if (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) ||
		len(rows) < b.cfg.MinSamplesSplit ||
		len(rows) < 2*b.cfg.MinSamplesLeaf {
		return idx
	}
	best, ok := b.findBestSplit(rows)
	if !ok {
		return idx
	}
	b.tree.Gains[best.feature] += best.gain

	left := b.build(best.left, depth+1)
	right := b.build(best.right, depth+1)
	n := &b.tree.Nodes[idx]
	n.Feature, n.Threshold, n.Left, n.Right = best.feature, best.threshold, left, right
	return idx
}

func (b *builder) mean(rows []int) float64 {
	var s float64
	for _, r := range rows {
		s += b.y[r]
	}
	return s / float64(len(rows))
}

func (b *builder) candidates() []int {
	if b.cfg.MaxFeatures <= 0 || b.cfg.MaxFeatures >= 1 || b.rng == nil {
		out := make([]int, b.nF)
		for j := range out {
			out[j] = j
		}
		return out
	}
	k := max(int(b.cfg.MaxFeatures*float64(b.nF)), 1)
	out := b.rng.Perm(b.nF)[:k]
	sort.Ints(out)
	return out
}

// findBestSplit は二乗誤差の減少が最大の分割を探す。同点は先に見つかった特徴量を優先する。
func (b *builder) findBestSplit(rows []int) (split, bool) {
	n := len(rows)
	var total float64
	for _, r := range rows {
		total += b.y[r]
	}
	parent := total * total / float64(n)

	best := split{gain: minGain}
	found := false
	sorted := make([]int, n)
	values := make([]float64, n)
	for _, j := range b.candidates() {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(a, c int) bool { return b.X.At(sorted[a], j) < b.X.At(sorted[c], j) })
		for i, r := range sorted {
			values[i] = b.X.At(r, j)
		}
		if values[0] == values[n-1] {
			continue
		}

		var leftSum float64
		for i := 0; i < n-1; i++ {
			leftSum += b.y[sorted[i]]
			nl := i + 1
			if values[i] == values[i+1] || nl < b.cfg.MinSamplesLeaf || n-nl < b.cfg.MinSamplesLeaf {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(n-nl) - parent
			if gain > best.gain {
				best = split{feature: j, threshold: (values[i] + values[i+1]) / 2, gain: gain}
				best.left = append(best.left[:0:0], sorted[:nl]...)
				best.right = append(best.right[:0:0], sorted[nl:]...)
				found = true
			}
		}
	}
	return best, found
}

// Normalize は gains を合計 1 に正規化したコピーを返す。合計が 0 ならすべて 0。
func Normalize(gains []float64) []float64 {
	out := append([]float64(nil), gains...)
	if s := floats.Sum(out); s > 0 {
		floats.Scale(1/s, out)
	}
	return out
}

// Regressor は単一の CART 回帰木
type Regressor struct {
	model.StateManager
	Config
	RandomState int

	Tree *Tree
}

// NewRegressor は min_samples_split=2, min_samples_leaf=1 の深さ無制限の木を作成する
func NewRegressor() *Regressor {
	return &Regressor{Config: Config{MinSamplesSplit: 2, MinSamplesLeaf: 1}, RandomState: 42}
}

var regressorKeys = []string{"max_depth", "min_samples_split", "min_samples_leaf", "max_features", "random_state"}

func (m *Regressor) Fit(X mat.Matrix, y mat.Vector) error {
	n, c, err := model.CheckFitInput("DecisionTree.Fit", X, y)
	if err != nil {
		return err
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	seed := uint64(m.RandomState)
	t, err := Grow(X, mat.Col(nil, 0, y), rows, m.Config, rand.New(rand.NewPCG(seed, seed)))
	if err != nil {
		return err
	}
	m.Tree = t
	m.SetFitted(c, n)
	return nil
}

func (m *Regressor) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if err := m.CheckPredict("DecisionTree", X); err != nil {
		return nil, err
	}
	return PredictAll(X, func(row []float64) float64 { return m.Tree.PredictRow(row) }), nil
}

// FeatureImportances は正規化した二乗誤差の減少量
func (m *Regressor) FeatureImportances() []float64 {
	if m.Tree == nil {
		return nil
	}
	return Normalize(m.Tree.Gains)
}

func (m *Regressor) NFeatures() int {
	return m.StateManager.NFeatures
}

func (m *Regressor) Params() model.Params {
	return ConfigParams(m.Config, m.RandomState)
}

func (m *Regressor) SetParams(params model.Params) error {
	if err := params.CheckKeys(regressorKeys...); err != nil {
		return err
	}
	cfg, seed, err := ApplyConfig(m.Config, m.RandomState, params)
	if err != nil {
		return err
	}
	m.Config, m.RandomState = cfg, seed
	return nil
}

// ConfigParams は木の設定をハイパーパラメータとして表す。max_depth=0 は nil（無制限）。
func ConfigParams(cfg Config, seed int) model.Params {
	var depth any
	if cfg.MaxDepth > 0 {
		depth = cfg.MaxDepth
	}
	return model.Params{
		"max_depth":         depth,
		"min_samples_split": cfg.MinSamplesSplit,
		"min_samples_leaf":  cfg.MinSamplesLeaf,
		"max_features":      cfg.MaxFeatures,
		"random_state":      seed,
	}
}

// ApplyConfig は params のうち木の設定に関わるキーを読み込んで検証する。
// 他のキーは無視するため、呼び出し側で CheckKeys しておくこと。
func ApplyConfig(cfg Config, seed int, params model.Params) (Config, int, error) {
	var err error
	if _, ok := params["max_depth"]; ok {
		if cfg.MaxDepth, err = params.OptionalInt("max_depth"); err != nil {
			return cfg, seed, err
		}
	}
	if cfg.MinSamplesSplit, err = params.Int("min_samples_split", cfg.MinSamplesSplit); err != nil {
		return cfg, seed, err
	}
	if cfg.MinSamplesLeaf, err = params.Int("min_samples_leaf", cfg.MinSamplesLeaf); err != nil {
		return cfg, seed, err
	}
	if cfg.MaxFeatures, err = params.Float("max_features", cfg.MaxFeatures); err != nil {
		return cfg, seed, err
	}
	if seed, err = params.Int("random_state", seed); err != nil {
		return cfg, seed, err
	}
	return cfg, seed, cfg.validate()
}

// PredictAll は行ごとの予測関数を X の全行に適用する
func PredictAll(X mat.Matrix, predict func(row []float64) float64) *mat.VecDense {
	r, c := X.Dims()
	out := mat.NewVecDense(r, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.SetVec(i, predict(row))
	}
	return out
}
