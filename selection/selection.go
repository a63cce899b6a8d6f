// Package selection implements feature selectors over numeric tables.
//
// Every selector learns which input columns to keep from the training table
// and then only restricts later tables to those columns. Estimator-driven
// selectors rank columns by FeatureImportances or by absolute coefficients.
package selection

import (
	"encoding/gob"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

func init() {
	gob.Register(&VarianceThreshold{})
	gob.Register(&SelectKBest{})
	gob.Register(&RFE{})
	gob.Register(&SelectFromModel{})
	gob.Register(&SequentialSelector{})
}

// Support is the fitted state shared by every selector: the numeric columns
// seen at fit and the subset retained, in input order.
type Support struct {
	model.StateManager
	Inputs []string
	Kept   []string
}

// Selected returns the retained column names.
func (s *Support) Selected() []string {
	return append([]string(nil), s.Kept...)
}

// Mask reports, per input column, whether it was retained.
func (s *Support) Mask() []bool {
	keep := make(map[string]bool, len(s.Kept))
	for _, k := range s.Kept {
		keep[k] = true
	}
	out := make([]bool, len(s.Inputs))
	for i, n := range s.Inputs {
		out[i] = keep[n]
	}
	return out
}

// Transform drops the input columns that were not retained. Every input
// column must still be present.
func (s *Support) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := s.RequireFitted("selector", "Transform"); err != nil {
		return nil, err
	}
	mask := s.Mask()
	var dropped []string
	for i, n := range s.Inputs {
		if _, err := t.RequireColumn(n); err != nil {
			return nil, err
		}
		if !mask[i] {
			dropped = append(dropped, n)
		}
	}
	return t.Drop(dropped...), nil
}

func (s *Support) keep(inputs []string, mask []bool, nSamples int) error {
	s.Inputs = inputs
	s.Kept = nil
	for i, n := range inputs {
		if mask[i] {
			s.Kept = append(s.Kept, n)
		}
	}
	if len(s.Kept) == 0 {
		return errors.NewValidationError("feature_selection", "no feature meets the selection criterion", len(inputs))
	}
	s.SetFitted(len(inputs), nSamples)
	return nil
}

// numericInputs returns the numeric columns of t and their matrix.
func numericInputs(t *dataset.Table, y []float64) ([]string, *mat.Dense, error) {
	names := t.NumericColumns()
	if len(names) == 0 {
		return nil, nil, errors.WithStack(errors.ErrEmptyData)
	}
	X, err := t.Matrix(names...)
	if err != nil {
		return nil, nil, err
	}
	if y != nil && len(y) != t.NumRows() {
		return nil, nil, errors.NewDimensionError("selection.Fit", t.NumRows(), len(y), 0)
	}
	return names, X, nil
}

// targetCount resolves a requested feature count. Zero means half of p,
// rounded down but at least one.
func targetCount(n, p int) (int, error) {
	switch {
	case n < 0:
		return 0, errors.NewValidationError("k", "must be >= 0", n)
	case n == 0:
		return max(p/2, 1), nil
	case n > p:
		return p, nil
	}
	return n, nil
}

// importances fits est on X and returns its importances.
func importances(factory model.Factory, estimator string, X mat.Matrix, y []float64) ([]float64, error) {
	if factory == nil {
		return nil, errors.NewValidationError("estimator", "selector needs an estimator factory", estimator)
	}
	est, err := factory()
	if err != nil {
		return nil, err
	}
	if err := est.Fit(X, mat.NewVecDense(len(y), append([]float64(nil), y...))); err != nil {
		return nil, err
	}
	imp, ok := model.Importances(est)
	if !ok {
		return nil, errors.NewValidationError("estimator", "exposes neither importances nor coefficients", estimator)
	}
	return imp, nil
}

func columns(X *mat.Dense, idx []int) *mat.Dense {
	r, _ := X.Dims()
	out := mat.NewDense(r, len(idx), nil)
	col := make([]float64, r)
	for j, c := range idx {
		mat.Col(col, c, X)
		out.SetCol(j, col)
	}
	return out
}
