package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// StateManager はモデルの学習状態を保持する。
// BaseEstimator の非公開フィールドは gob で保存されないため、状態は公開フィールドで持つ。
// 同一インスタンスへの並行な Fit は想定しない。
type StateManager struct {
	Fitted    bool
	NFeatures int
	NSamples  int
}

// IsFitted はモデルが学習済みかどうかを返す
func (s *StateManager) IsFitted() bool {
	return s.Fitted
}

// SetFitted は学習済みとして次元を記録する
func (s *StateManager) SetFitted(nFeatures, nSamples int) {
	s.Fitted = true
	s.NFeatures = nFeatures
	s.NSamples = nSamples
}

// Reset は初期状態に戻す
func (s *StateManager) Reset() {
	*s = StateManager{}
}

// RequireFitted は未学習なら NotFittedError を返す
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.Fitted {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// CheckPredict は予測入力の列数が学習時と一致することを確認する
func (s *StateManager) CheckPredict(modelName string, X mat.Matrix) error {
	if err := s.RequireFitted(modelName, "Predict"); err != nil {
		return err
	}
	_, c := X.Dims()
	if c != s.NFeatures {
		return errors.NewFeatureMismatchError(s.NFeatures, c)
	}
	return nil
}

// CheckFitInput は学習入力の形状と有限性を検証し、(行数, 列数) を返す
func CheckFitInput(op string, X mat.Matrix, y mat.Vector) (int, int, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return 0, 0, errors.WithStack(errors.ErrEmptyData)
	}
	if y.Len() != r {
		return 0, 0, errors.NewDimensionError(op, r, y.Len(), 0)
	}
	if err := errors.CheckMatrix(op, X); err != nil {
		return 0, 0, err
	}
	for i := 0; i < r; i++ {
		if err := errors.CheckFinite(op, []float64{y.AtVec(i)}); err != nil {
			return 0, 0, err
		}
	}
	return r, c, nil
}
