package ensemble

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/tree"
)

// GradientBoosting fits shallow trees to the residuals of the running
// prediction under squared loss. Each stage is shrunk by LearningRate. With
// Subsample < 1 every stage sees a random fraction of the rows drawn without
// replacement.
type GradientBoosting struct {
	model.StateManager
	tree.Config
	NEstimators  int
	LearningRate float64
	Subsample    float64
	RandomState  int

	Init  float64
	Trees []*tree.Tree
}

// NewGradientBoosting returns 100 stages of depth-3 trees with learning rate 0.1.
func NewGradientBoosting() *GradientBoosting {
	return &GradientBoosting{
		Config:       tree.Config{MaxDepth: 3, MinSamplesSplit: 2, MinSamplesLeaf: 1},
		NEstimators:  100,
		LearningRate: 0.1,
		Subsample:    1.0,
		RandomState:  42,
	}
}

var boostingKeys = []string{
	"n_estimators", "learning_rate", "max_depth", "min_samples_split",
	"min_samples_leaf", "max_features", "subsample", "random_state",
}

func (g *GradientBoosting) validate() error {
	switch {
	case g.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be >= 1", g.NEstimators)
	case g.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be > 0", g.LearningRate)
	case g.Subsample <= 0 || g.Subsample > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", g.Subsample)
	}
	return nil
}

func (g *GradientBoosting) Fit(X mat.Matrix, y mat.Vector) error {
	if err := g.validate(); err != nil {
		return err
	}
	n, c, err := model.CheckFitInput("GradientBoosting.Fit", X, y)
	if err != nil {
		return err
	}
	target := mat.Col(nil, 0, y)
	seed := uint64(g.RandomState)
	rng := rand.New(rand.NewPCG(seed, seed))

	g.Init = floats.Sum(target) / float64(n)
	current := make([]float64, n)
	for i := range current {
		current[i] = g.Init
	}
	residual := make([]float64, n)
	row := make([]float64, c)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	sampleSize := max(int(g.Subsample*float64(n)), 1)

	g.Trees = make([]*tree.Tree, 0, g.NEstimators)
	for stage := 0; stage < g.NEstimators; stage++ {
		floats.SubTo(residual, target, current)
		rows := all
		if sampleSize < n {
			rows = rng.Perm(n)[:sampleSize]
			sort.Ints(rows)
		}
		t, err := tree.Grow(X, residual, rows, g.Config, rng)
		if err != nil {
			return errors.Wrapf(err, "stage %d", stage)
		}
		for i := 0; i < n; i++ {
			mat.Row(row, i, X)
			current[i] += g.LearningRate * t.PredictRow(row)
		}
		g.Trees = append(g.Trees, t)
	}
	g.SetFitted(c, n)
	return nil
}

func (g *GradientBoosting) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if err := g.CheckPredict("GradientBoosting", X); err != nil {
		return nil, err
	}
	return tree.PredictAll(X, func(row []float64) float64 {
		v := g.Init
		for _, t := range g.Trees {
			v += g.LearningRate * t.PredictRow(row)
		}
		return v
	}), nil
}

// FeatureImportances averages the normalized importances of the stages.
func (g *GradientBoosting) FeatureImportances() []float64 {
	return meanImportances(g.Trees, g.StateManager.NFeatures)
}

func (g *GradientBoosting) NFeatures() int {
	return g.StateManager.NFeatures
}

func (g *GradientBoosting) Params() model.Params {
	p := tree.ConfigParams(g.Config, g.RandomState)
	p["n_estimators"] = g.NEstimators
	p["learning_rate"] = g.LearningRate
	p["subsample"] = g.Subsample
	return p
}

func (g *GradientBoosting) SetParams(params model.Params) error {
	if err := params.CheckKeys(boostingKeys...); err != nil {
		return err
	}
	next := *g
	var err error
	if next.Config, next.RandomState, err = tree.ApplyConfig(g.Config, g.RandomState, params); err != nil {
		return err
	}
	if next.NEstimators, err = params.Int("n_estimators", g.NEstimators); err != nil {
		return err
	}
	if next.LearningRate, err = params.Float("learning_rate", g.LearningRate); err != nil {
		return err
	}
	if next.Subsample, err = params.Float("subsample", g.Subsample); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}
	g.Config, g.RandomState = next.Config, next.RandomState
	g.NEstimators, g.LearningRate, g.Subsample = next.NEstimators, next.LearningRate, next.Subsample
	return nil
}
