// Package ensemble provides bagged and boosted ensembles of regression trees.
package ensemble

import (
	"encoding/gob"
	"math/rand/v2"
	"runtime"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/parallel"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/tree"
)

func init() {
	gob.Register(&RandomForest{})
	gob.Register(&GradientBoosting{})
}

// RandomForest averages trees grown on bootstrap samples. Tree i draws from
// its own PCG stream seeded by (RandomState, i), so the fit does not depend
// on goroutine scheduling.
type RandomForest struct {
	model.StateManager
	tree.Config
	NEstimators int
	Bootstrap   bool
	RandomState int
	NJobs       int

	Trees []*tree.Tree
}

// NewRandomForest returns a forest of 100 fully grown trees using every
// feature at each split.
func NewRandomForest() *RandomForest {
	return &RandomForest{
		Config:      tree.Config{MinSamplesSplit: 2, MinSamplesLeaf: 1, MaxFeatures: 1.0},
		NEstimators: 100,
		Bootstrap:   true,
		RandomState: 42,
	}
}

var forestKeys = []string{
	"n_estimators", "max_depth", "min_samples_split", "min_samples_leaf",
	"max_features", "bootstrap", "random_state", "n_jobs",
}

func (f *RandomForest) Fit(X mat.Matrix, y mat.Vector) error {
	if f.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", f.NEstimators)
	}
	n, c, err := model.CheckFitInput("RandomForest.Fit", X, y)
	if err != nil {
		return err
	}
	target := mat.Col(nil, 0, y)
	jobs := f.NJobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}

	trees := make([]*tree.Tree, f.NEstimators)
	err = parallel.ForEach(f.NEstimators, jobs, "RandomForest.Fit", func(i int) error {
		rng := rand.New(rand.NewPCG(uint64(f.RandomState), uint64(i)))
		rows := make([]int, n)
		for r := range rows {
			if f.Bootstrap {
				rows[r] = rng.IntN(n)
			} else {
				rows[r] = r
			}
		}
		t, err := tree.Grow(X, target, rows, f.Config, rng)
		if err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
		trees[i] = t
		return nil
	})
	if err != nil {
		return err
	}
	f.Trees = trees
	f.SetFitted(c, n)
	return nil
}

func (f *RandomForest) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if err := f.CheckPredict("RandomForest", X); err != nil {
		return nil, err
	}
	k := float64(len(f.Trees))
	return tree.PredictAll(X, func(row []float64) float64 {
		var s float64
		for _, t := range f.Trees {
			s += t.PredictRow(row)
		}
		return s / k
	}), nil
}

// FeatureImportances averages the normalized importances of the trees.
func (f *RandomForest) FeatureImportances() []float64 {
	return meanImportances(f.Trees, f.StateManager.NFeatures)
}

func (f *RandomForest) NFeatures() int {
	return f.StateManager.NFeatures
}

func (f *RandomForest) Params() model.Params {
	p := tree.ConfigParams(f.Config, f.RandomState)
	p["n_estimators"] = f.NEstimators
	p["bootstrap"] = f.Bootstrap
	p["n_jobs"] = f.NJobs
	return p
}

func (f *RandomForest) SetParams(params model.Params) error {
	if err := params.CheckKeys(forestKeys...); err != nil {
		return err
	}
	cfg, seed, err := tree.ApplyConfig(f.Config, f.RandomState, params)
	if err != nil {
		return err
	}
	n, err := params.Int("n_estimators", f.NEstimators)
	if err != nil {
		return err
	}
	if n < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", n)
	}
	bootstrap, err := params.Bool("bootstrap", f.Bootstrap)
	if err != nil {
		return err
	}
	jobs, err := params.Int("n_jobs", f.NJobs)
	if err != nil {
		return err
	}
	f.Config, f.RandomState, f.NEstimators, f.Bootstrap, f.NJobs = cfg, seed, n, bootstrap, jobs
	return nil
}

func meanImportances(trees []*tree.Tree, nFeatures int) []float64 {
	if len(trees) == 0 {
		return nil
	}
	out := make([]float64, nFeatures)
	for _, t := range trees {
		for j, v := range tree.Normalize(t.Gains) {
			out[j] += v
		}
	}
	return tree.Normalize(out)
}
