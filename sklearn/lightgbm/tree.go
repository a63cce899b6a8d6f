package lightgbm

import "math"

// Node は木のノード。LeftChild と RightChild が -1 なら葉。
type Node struct {
	SplitFeature int
	Threshold    float64
	LeftChild    int
	RightChild   int
	DefaultLeft  bool // 欠損値 (NaN) の送り先
	Gain         float64
	LeafValue    float64 // 学習率を適用済み
	Count        int
}

// IsLeaf は葉ノードなら true
func (n *Node) IsLeaf() bool {
	return n.LeftChild == -1 && n.RightChild == -1
}

// Tree はアンサンブル中の 1 本の木
type Tree struct {
	Nodes []Node
}

// Predict は 1 サンプルに対するこの木の出力（学習率適用済み）
func (t *Tree) Predict(features []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n.LeafValue
		}
		v := features[n.SplitFeature]
		switch {
		case math.IsNaN(v):
			if n.DefaultLeft {
				i = n.LeftChild
			} else {
				i = n.RightChild
			}
		case v <= n.Threshold:
			i = n.LeftChild
		default:
			i = n.RightChild
		}
	}
}

// NumLeaves は葉の数
func (t *Tree) NumLeaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}
