package selection

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/stats"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/tuning"
)

// RFE recursively fits the estimator and eliminates the Step least important
// remaining columns until NFeatures remain. Ranking is 1 for retained
// columns and grows with earlier elimination.
type RFE struct {
	Support
	Estimator string
	NFeatures int
	Step      int
	Ranking   []int

	factory model.Factory
}

// NewRFE builds an RFE selector. estimator names the model the factory
// builds and is kept for reporting.
func NewRFE(estimator string, factory model.Factory, nFeatures, step int) *RFE {
	return &RFE{Estimator: estimator, NFeatures: nFeatures, Step: step, factory: factory}
}

func (s *RFE) Fit(t *dataset.Table, y []float64) error {
	names, X, err := numericInputs(t, y)
	if err != nil {
		return err
	}
	target, err := targetCount(s.NFeatures, len(names))
	if err != nil {
		return err
	}
	step := max(s.Step, 1)

	remaining := make([]int, len(names))
	for i := range remaining {
		remaining[i] = i
	}
	s.Ranking = make([]int, len(names))
	var eliminated [][]int
	for len(remaining) > target {
		imp, err := importances(s.factory, s.Estimator, columns(X, remaining), y)
		if err != nil {
			return err
		}
		order := make([]int, len(remaining))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return imp[order[a]] < imp[order[b]] })

		drop := min(step, len(remaining)-target)
		gone := make(map[int]bool, drop)
		var round []int
		for _, o := range order[:drop] {
			gone[o] = true
			round = append(round, remaining[o])
		}
		eliminated = append(eliminated, round)
		next := make([]int, 0, len(remaining)-drop)
		for i, c := range remaining {
			if !gone[i] {
				next = append(next, c)
			}
		}
		remaining = next
	}

	mask := make([]bool, len(names))
	for _, c := range remaining {
		mask[c] = true
		s.Ranking[c] = 1
	}
	for i, round := range eliminated {
		for _, c := range round {
			s.Ranking[c] = len(eliminated) - i + 1
		}
	}
	return s.keep(names, mask, t.NumRows())
}

// SelectFromModel fits the estimator once and keeps the columns whose
// importance is at least the threshold. Threshold is "mean", "median" or a
// number; empty means "mean".
type SelectFromModel struct {
	Support
	Estimator      string
	Threshold      string
	Importances    []float64
	ThresholdValue float64

	factory model.Factory
}

func NewSelectFromModel(estimator string, factory model.Factory, threshold string) *SelectFromModel {
	return &SelectFromModel{Estimator: estimator, Threshold: threshold, factory: factory}
}

func (s *SelectFromModel) Fit(t *dataset.Table, y []float64) error {
	names, X, err := numericInputs(t, y)
	if err != nil {
		return err
	}
	imp, err := importances(s.factory, s.Estimator, X, y)
	if err != nil {
		return err
	}
	cut, err := resolveThreshold(s.Threshold, imp)
	if err != nil {
		return err
	}
	s.Importances, s.ThresholdValue = imp, cut

	mask := make([]bool, len(names))
	for j, v := range imp {
		// 1e-10 absorbs rounding in the mean of equal importances.
		mask[j] = v >= cut-1e-10
	}
	return s.keep(names, mask, t.NumRows())
}

func resolveThreshold(spec string, imp []float64) (float64, error) {
	switch spec {
	case "", "mean":
		return stats.Mean(imp), nil
	case "median":
		return stats.Median(imp), nil
	}
	v, err := strconv.ParseFloat(spec, 64)
	if err != nil {
		return 0, errors.NewConfigurationError("feature_selection.threshold", spec, "mean", "median", "<number>")
	}
	return v, nil
}

// Directions accepted by SequentialSelector.
const (
	Forward  = "forward"
	Backward = "backward"
)

// SequentialSelector greedily adds (forward) or removes (backward) the
// column that gives the best cross-validated score until NFeatures remain.
// Ties keep the earlier column.
type SequentialSelector struct {
	Support
	Estimator string
	NFeatures int
	Direction string
	CV        int
	Scoring   string

	factory model.Factory
	opts    []tuning.Option
}

// NewSequentialSelector builds a selector scored by r2 over cv folds.
func NewSequentialSelector(estimator string, factory model.Factory, nFeatures int, direction string, cv int, opts ...tuning.Option) (*SequentialSelector, error) {
	if direction == "" {
		direction = Forward
	}
	if direction != Forward && direction != Backward {
		return nil, errors.NewConfigurationError("feature_selection.direction", direction, Forward, Backward)
	}
	if cv == 0 {
		cv = 5
	}
	return &SequentialSelector{
		Estimator: estimator, NFeatures: nFeatures, Direction: direction,
		CV: cv, Scoring: "r2", factory: factory, opts: opts,
	}, nil
}

func (s *SequentialSelector) Fit(t *dataset.Table, y []float64) error {
	if s.factory == nil {
		return errors.NewValidationError("estimator", "selector needs an estimator factory", s.Estimator)
	}
	names, X, err := numericInputs(t, y)
	if err != nil {
		return err
	}
	target, err := targetCount(s.NFeatures, len(names))
	if err != nil {
		return err
	}
	kf := tuning.KFold{NSplits: s.CV}

	current := make([]bool, len(names))
	if s.Direction == Backward {
		for i := range current {
			current[i] = true
		}
	}
	count := func() int {
		n := 0
		for _, c := range current {
			if c {
				n++
			}
		}
		return n
	}
	for count() != target {
		best, bestScore := -1, math.NaN()
		for j := range names {
			// forward considers absent columns, backward present ones
			if current[j] == (s.Direction == Forward) {
				continue
			}
			current[j] = !current[j]
			var idx []int
			for i, c := range current {
				if c {
					idx = append(idx, i)
				}
			}
			res, err := tuning.CrossValScore(context.Background(), s.factory, columns(X, idx), y, kf, s.Scoring, s.opts...)
			current[j] = !current[j]
			if err != nil {
				return err
			}
			if !math.IsNaN(res.Mean) && (best < 0 || math.IsNaN(bestScore) || res.Mean > bestScore) {
				best, bestScore = j, res.Mean
			}
		}
		if best < 0 {
			return errors.NewNumericError("SequentialSelector.Fit", "every candidate column scored NaN")
		}
		current[best] = !current[best]
	}
	return s.keep(names, current, t.NumRows())
}
