package lightgbm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/parallel"
)

// parallelFeatures 以上の特徴量数でヒストグラム構築を並列化する
const parallelFeatures = 8

// BinMapper は特徴量の値をビン番号に変換する。
// Upper[j][b] はビン b の上限（含む）で、最後のビンの上限は +Inf。
type BinMapper struct {
	Upper [][]float64
}

// NewBinMapper は X の各列から最大 maxBin 個のビン境界を求める
func NewBinMapper(X mat.Matrix, maxBin int) *BinMapper {
	r, c := X.Dims()
	m := &BinMapper{Upper: make([][]float64, c)}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		m.Upper[j] = findBinBoundaries(col, maxBin)
	}
	return m
}

// findBinBoundaries は一意な値が maxBin 以下なら隣接値の中点、
// それを超える場合は等頻度の中点を境界にする
func findBinBoundaries(values []float64, maxBin int) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	unique := sorted[:1]
	for _, v := range sorted[1:] {
		if v != unique[len(unique)-1] {
			unique = append(unique, v)
		}
	}

	var bounds []float64
	if len(unique) <= maxBin {
		for i := 1; i < len(unique); i++ {
			bounds = append(bounds, (unique[i-1]+unique[i])/2)
		}
	} else {
		step := float64(len(unique)) / float64(maxBin)
		for b := 1; b < maxBin; b++ {
			i := int(math.Round(float64(b) * step))
			bounds = append(bounds, (unique[i-1]+unique[i])/2)
		}
	}
	return append(bounds, math.Inf(1))
}

// NumBins は特徴量 j のビン数
func (m *BinMapper) NumBins(j int) int {
	return len(m.Upper[j])
}

// Bin は値 v のビン番号。v <= Upper[b] となる最小の b。
func (m *BinMapper) Bin(j int, v float64) int {
	return sort.SearchFloat64s(m.Upper[j], v)
}

// Threshold はビン b 以下を左に送る分割の実数しきい値
func (m *BinMapper) Threshold(j, b int) float64 {
	return m.Upper[j][b]
}

// binned はビン化済みの学習データ（列優先）
type binned struct {
	bins [][]uint16
}

func (m *BinMapper) transform(X mat.Matrix) binned {
	r, c := X.Dims()
	out := binned{bins: make([][]uint16, c)}
	for j := 0; j < c; j++ {
		col := make([]uint16, r)
		for i := 0; i < r; i++ {
			col[i] = uint16(m.Bin(j, X.At(i, j)))
		}
		out.bins[j] = col
	}
	return out
}

// histogram は 1 特徴量分のビンごとの勾配・ヘッセ行列・件数の合計
type histogram struct {
	grad  []float64
	hess  []float64
	count []int
}

// buildHistograms は rows の勾配をビンごとに集計する。features 以外の列は nil のまま。
func buildHistograms(data binned, m *BinMapper, features, rows []int, grad, hess []float64) []histogram {
	hists := make([]histogram, len(data.bins))
	parallel.ParallelizeWithThreshold(len(features), parallelFeatures, func(start, end int) {
		for _, j := range features[start:end] {
			n := m.NumBins(j)
			h := histogram{grad: make([]float64, n), hess: make([]float64, n), count: make([]int, n)}
			col := data.bins[j]
			for _, r := range rows {
				b := col[r]
				h.grad[b] += grad[r]
				h.hess[b] += hess[r]
				h.count[b]++
			}
			hists[j] = h
		}
	})
	return hists
}

// splitInfo は葉の最良分割
type splitInfo struct {
	feature int
	bin     int
	gain    float64
	valid   bool
}

// splitGain は二次近似による分割ゲイン
func splitGain(gl, hl, gr, hr, lambda float64) float64 {
	g, h := gl+gr, hl+hr
	return 0.5 * (gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - g*g/(h+lambda))
}

// bestSplit はヒストグラムを左から走査して最良の分割を探す。同点は先の特徴量・ビンを優先する。
func bestSplit(hists []histogram, features []int, minData int, lambda float64) splitInfo {
	best := splitInfo{}
	for _, j := range features {
		h := hists[j]
		var gTot, hTot float64
		nTot := 0
		for b := range h.grad {
			gTot += h.grad[b]
			hTot += h.hess[b]
			nTot += h.count[b]
		}
		var gl, hl float64
		nl := 0
		for b := 0; b < len(h.grad)-1; b++ {
			gl += h.grad[b]
			hl += h.hess[b]
			nl += h.count[b]
			if nl < minData || nTot-nl < minData {
				continue
			}
			gain := splitGain(gl, hl, gTot-gl, hTot-hl, lambda)
			if gain > best.gain+1e-12 {
				best = splitInfo{feature: j, bin: b, gain: gain, valid: true}
			}
		}
	}
	return best
}
