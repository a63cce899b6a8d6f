// Package svm はイプシロン不感帯サポートベクター回帰を提供します。
package svm

import (
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

func init() {
	gob.Register(&SVR{})
}

// カーネルの種類
const (
	KernelRBF    = "rbf"
	KernelLinear = "linear"
)

// GammaScale は gamma = 1 / (特徴量数 · X の分散) を表す
const GammaScale = "scale"

// SVR はイプシロン SVR。
// 切片はカーネルに定数 1 を加えて双対変数に吸収し、等式制約なしの
// 双対問題を座標降下法で解く。特徴量のスケーリングは呼び出し側で行うこと。
type SVR struct {
	model.StateManager
	Kernel      string
	C           float64
	Epsilon     float64
	Gamma       float64 // 0 は GammaScale
	MaxIter     int
	Tol         float64
	RandomState int

	// 学習済みの状態
	GammaValue     float64
	SupportVectors [][]float64
	DualCoef       []float64
	NIter          int
}

// NewSVR は C=1, epsilon=0.1, gamma=scale の RBF カーネル SVR を作成する
func NewSVR() *SVR {
	return &SVR{Kernel: KernelRBF, C: 1, Epsilon: 0.1, MaxIter: 1000, Tol: 1e-3, RandomState: 42}
}

var svrKeys = []string{"kernel", "C", "epsilon", "gamma", "max_iter", "tol", "random_state"}

func (s *SVR) validate() error {
	switch {
	case s.Kernel != KernelRBF && s.Kernel != KernelLinear:
		return errors.NewConfigurationError("kernel", s.Kernel, KernelRBF, KernelLinear)
	case s.C <= 0:
		return errors.NewValidationError("C", "must be > 0", s.C)
	case s.Epsilon < 0:
		return errors.NewValidationError("epsilon", "must be >= 0", s.Epsilon)
	case s.Gamma < 0:
		return errors.NewValidationError("gamma", "must be > 0 or \"scale\"", s.Gamma)
	case s.MaxIter < 1:
		return errors.NewValidationError("max_iter", "must be >= 1", s.MaxIter)
	case s.Tol <= 0:
		return errors.NewValidationError("tol", "must be > 0", s.Tol)
	}
	return nil
}

func (s *SVR) kernel(a, b []float64) float64 {
	if s.Kernel == KernelLinear {
		return floats.Dot(a, b)
	}
	d := floats.Distance(a, b, 2)
	return math.Exp(-s.GammaValue * d * d)
}

func (s *SVR) Fit(X mat.Matrix, y mat.Vector) error {
	if err := s.validate(); err != nil {
		return err
	}
	n, c, err := model.CheckFitInput("SVR.Fit", X, y)
	if err != nil {
		return err
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}
	s.GammaValue = s.Gamma
	if s.GammaValue == 0 {
		all := make([]float64, 0, n*c)
		for _, r := range rows {
			all = append(all, r...)
		}
		v := stat.PopVariance(all, nil)
		s.GammaValue = 1 / (float64(c) * v)
		if v == 0 {
			s.GammaValue = 1
		}
	}

	// K[i][j] = k(x_i, x_j) + 1
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			K.SetSym(i, j, s.kernel(rows[i], rows[j])+1)
		}
	}

	beta := make([]float64, n)
	f := make([]float64, n) // f = Kβ
	converged := false
	iter := 0
	for iter < s.MaxIter && !converged {
		iter++
		maxDelta, maxBeta := 0.0, 0.0
		for i := 0; i < n; i++ {
			kii := K.At(i, i)
			g := f[i] - y.AtVec(i)
			z := kii*beta[i] - g
			next := math.Copysign(math.Max(math.Abs(z)-s.Epsilon, 0), z) / kii
			next = errors.ClipValue(next, -s.C, s.C)
			if d := next - beta[i]; d != 0 {
				for j := 0; j < n; j++ {
					f[j] += d * K.At(i, j)
				}
				beta[i] = next
				maxDelta = math.Max(maxDelta, math.Abs(d))
			}
			maxBeta = math.Max(maxBeta, math.Abs(beta[i]))
		}
		converged = maxDelta <= s.Tol*math.Max(maxBeta, 1)
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("SVR", s.MaxIter,
			fmt.Sprintf("dual coordinate descent did not reach tol=%g", s.Tol)))
	}

	s.SupportVectors, s.DualCoef = nil, nil
	for i, b := range beta {
		if b != 0 {
			s.SupportVectors = append(s.SupportVectors, rows[i])
			s.DualCoef = append(s.DualCoef, b)
		}
	}
	s.NIter = iter
	s.SetFitted(c, n)
	return nil
}

func (s *SVR) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if err := s.CheckPredict("SVR", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	out := mat.NewVecDense(r, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		var v float64
		for k, sv := range s.SupportVectors {
			v += s.DualCoef[k] * (s.kernel(sv, row) + 1)
		}
		out.SetVec(i, v)
	}
	return out, nil
}

// Intercept は双対変数に吸収された切片 Σβ
func (s *SVR) Intercept() float64 {
	return floats.Sum(s.DualCoef)
}

func (s *SVR) NFeatures() int {
	return s.StateManager.NFeatures
}

func (s *SVR) Params() model.Params {
	var gamma any = GammaScale
	if s.Gamma > 0 {
		gamma = s.Gamma
	}
	return model.Params{
		"kernel":       s.Kernel,
		"C":            s.C,
		"epsilon":      s.Epsilon,
		"gamma":        gamma,
		"max_iter":     s.MaxIter,
		"tol":          s.Tol,
		"random_state": s.RandomState,
	}
}

func (s *SVR) SetParams(params model.Params) error {
	if err := params.CheckKeys(svrKeys...); err != nil {
		return err
	}
	next := *s
	var err error
	if next.Kernel, err = params.Str("kernel", s.Kernel); err != nil {
		return err
	}
	if next.C, err = params.Float("C", s.C); err != nil {
		return err
	}
	if next.Epsilon, err = params.Float("epsilon", s.Epsilon); err != nil {
		return err
	}
	if g, ok := params["gamma"]; ok && g != nil && g != GammaScale {
		if next.Gamma, err = params.Float("gamma", s.Gamma); err != nil {
			return err
		}
		if next.Gamma <= 0 {
			return errors.NewValidationError("gamma", "must be > 0 or \"scale\"", g)
		}
	} else if ok {
		next.Gamma = 0
	}
	if next.MaxIter, err = params.Int("max_iter", s.MaxIter); err != nil {
		return err
	}
	if next.Tol, err = params.Float("tol", s.Tol); err != nil {
		return err
	}
	if next.RandomState, err = params.Int("random_state", s.RandomState); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}
	s.Kernel, s.C, s.Epsilon, s.Gamma = next.Kernel, next.C, next.Epsilon, next.Gamma
	s.MaxIter, s.Tol, s.RandomState = next.MaxIter, next.Tol, next.RandomState
	return nil
}
