package lightgbm

import (
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// ModelDump は LightGBM の dump_model と同じフィールド名を持つ JSON 表現
type ModelDump struct {
	Name         string     `json:"name"`
	Version      string     `json:"version"`
	NumClass     int        `json:"num_class"`
	MaxFeatureID int        `json:"max_feature_idx"`
	Objective    string     `json:"objective"`
	FeatureNames []string   `json:"feature_names"`
	InitScore    float64    `json:"init_score"`
	TreeInfo     []TreeDump `json:"tree_info"`
}

// TreeDump は 1 本の木
type TreeDump struct {
	TreeIndex     int      `json:"tree_index"`
	NumLeaves     int      `json:"num_leaves"`
	Shrinkage     float64  `json:"shrinkage"`
	TreeStructure NodeDump `json:"tree_structure"`
}

// NodeDump は分割ノードまたは葉。葉では LeafValue と LeafCount だけが意味を持つ。
type NodeDump struct {
	SplitIndex    *int      `json:"split_index,omitempty"`
	SplitFeature  *int      `json:"split_feature,omitempty"`
	SplitGain     float64   `json:"split_gain,omitempty"`
	Threshold     float64   `json:"threshold,omitempty"`
	DecisionType  string    `json:"decision_type,omitempty"`
	DefaultLeft   bool      `json:"default_left,omitempty"`
	InternalCount int       `json:"internal_count,omitempty"`
	LeftChild     *NodeDump `json:"left_child,omitempty"`
	RightChild    *NodeDump `json:"right_child,omitempty"`
	LeafIndex     *int      `json:"leaf_index,omitempty"`
	LeafValue     float64   `json:"leaf_value"`
	LeafCount     int       `json:"leaf_count,omitempty"`
}

// Dump は学習済みモデルを ModelDump に変換する。featureNames が nil なら Column_i。
func (r *Regressor) Dump(featureNames []string) (*ModelDump, error) {
	if err := r.RequireFitted("LightGBM", "Dump"); err != nil {
		return nil, err
	}
	nF := r.StateManager.NFeatures
	if featureNames == nil {
		featureNames = make([]string, nF)
		for j := range featureNames {
			featureNames[j] = "Column_" + strconv.Itoa(j)
		}
	}
	if len(featureNames) != nF {
		return nil, errors.NewFeatureMismatchError(nF, len(featureNames))
	}
	d := &ModelDump{
		Name:         "tree",
		Version:      "v4",
		NumClass:     1,
		MaxFeatureID: nF - 1,
		Objective:    "regression",
		FeatureNames: featureNames,
		InitScore:    r.InitScore,
		TreeInfo:     make([]TreeDump, len(r.Trees)),
	}
	for i := range r.Trees {
		t := &r.Trees[i]
		split, leafIdx := 0, 0
		d.TreeInfo[i] = TreeDump{
			TreeIndex:     i,
			NumLeaves:     t.NumLeaves(),
			Shrinkage:     r.LearningRate,
			TreeStructure: dumpNode(t, 0, &split, &leafIdx),
		}
	}
	return d, nil
}

func dumpNode(t *Tree, i int, split, leafIdx *int) NodeDump {
	n := &t.Nodes[i]
	if n.IsLeaf() {
		idx := *leafIdx
		*leafIdx++
		return NodeDump{LeafIndex: &idx, LeafValue: n.LeafValue, LeafCount: n.Count}
	}
	idx, feature := *split, n.SplitFeature
	*split++
	left := dumpNode(t, n.LeftChild, split, leafIdx)
	right := dumpNode(t, n.RightChild, split, leafIdx)
	return NodeDump{
		SplitIndex:    &idx,
		SplitFeature:  &feature,
		SplitGain:     n.Gain,
		Threshold:     n.Threshold,
		DecisionType:  "<=",
		DefaultLeft:   n.DefaultLeft,
		InternalCount: n.Count,
		LeftChild:     &left,
		RightChild:    &right,
	}
}

// DumpModel は Dump の結果を JSON で返す
func (r *Regressor) DumpModel(featureNames []string) ([]byte, error) {
	d, err := r.Dump(featureNames)
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal model dump")
	}
	return b, nil
}

// Predict は ModelDump から 1 サンプルを予測する。学習済みモデルと同じ値を返す。
func (d *ModelDump) Predict(features []float64) float64 {
	v := d.InitScore
	for i := range d.TreeInfo {
		n := &d.TreeInfo[i].TreeStructure
		for n.LeafIndex == nil {
			x := features[*n.SplitFeature]
			if x <= n.Threshold || (math.IsNaN(x) && n.DefaultLeft) {
				n = n.LeftChild
			} else {
				n = n.RightChild
			}
		}
		v += n.LeafValue
	}
	return v
}

// LoadDump は DumpModel の出力を読み込む
func LoadDump(data []byte) (*ModelDump, error) {
	var d ModelDump
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.NewFormatError("<memory>", "json", err.Error())
	}
	return &d, nil
}
