// Package tuning implements k-fold cross-validation, grid and randomized
// hyperparameter search, and learning curves.
//
// Fold evaluations fan out over an errgroup. Every worker builds its own
// estimator from a factory and its own copy of the fold rows, and writes only
// its score into a slot reserved for it, so no state is shared between
// workers.
package tuning

import (
	"context"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/stats"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// Fold holds the row indices of one cross-validation round.
type Fold struct {
	Train []int
	Test  []int
}

// KFold splits n rows into NSplits contiguous folds, optionally after a
// seeded shuffle. The first n%NSplits folds get one extra row.
type KFold struct {
	NSplits int
	Shuffle bool
	Seed    uint64
}

// DefaultKFold is 5 folds without shuffling.
func DefaultKFold() KFold {
	return KFold{NSplits: 5}
}

// Split returns the folds for n rows.
func (kf KFold) Split(n int) ([]Fold, error) {
	if kf.NSplits < 2 {
		return nil, errors.NewValidationError("cv", "needs at least 2 folds", kf.NSplits)
	}
	if n < kf.NSplits {
		return nil, errors.NewValidationError("cv", "more folds than samples", n)
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := rand.New(rand.NewPCG(kf.Seed, kf.Seed))
		r.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}

	folds := make([]Fold, kf.NSplits)
	size, remainder := n/kf.NSplits, n%kf.NSplits
	start := 0
	for i := range folds {
		testSize := size
		if i < remainder {
			testSize++
		}
		end := start + testSize
		folds[i] = Fold{
			Test:  append([]int(nil), indices[start:end]...),
			Train: append(append([]int(nil), indices[:start]...), indices[end:]...),
		}
		start = end
	}
	return folds, nil
}

// CVResult summarizes the per-fold scores.
type CVResult struct {
	Scores []float64 `json:"scores"`
	Mean   float64   `json:"mean"`
	// Std is the sample standard deviation across folds.
	Std float64 `json:"std"`
}

func summarize(scores []float64) CVResult {
	mean, std := stats.MeanStd(scores)
	return CVResult{Scores: scores, Mean: mean, Std: std}
}

type options struct {
	nJobs  int
	logger log.Logger
}

// Option customizes cross-validation and search.
type Option func(*options)

// WithNJobs bounds the number of concurrent fold fits. Values below 1 mean
// runtime.NumCPU().
func WithNJobs(n int) Option {
	return func(o *options) { o.nJobs = n }
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.nJobs < 1 {
		o.nJobs = runtime.NumCPU()
	}
	o.logger = log.OrDefault(o.logger, "tuner")
	return o
}

// CrossValScore fits a fresh estimator from factory on every training fold
// and scores it on the matching held-out fold.
func CrossValScore(ctx context.Context, factory model.Factory, X *mat.Dense, y []float64, cv KFold, scoring string, opts ...Option) (CVResult, error) {
	scorer, err := GetScorer(scoring)
	if err != nil {
		return CVResult{}, err
	}
	r, _ := X.Dims()
	if len(y) != r {
		return CVResult{}, errors.NewDimensionError("CrossValScore", r, len(y), 0)
	}
	folds, err := cv.Split(r)
	if err != nil {
		return CVResult{}, err
	}

	o := buildOptions(opts)
	scores := make([]float64, len(folds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.nJobs)
	for i, fold := range folds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := fitAndScore(factory, X, y, fold.Train, fold.Test, scorer)
			if err != nil {
				return errors.Wrapf(err, "fold %d", i)
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CVResult{}, err
	}

	res := summarize(scores)
	o.logger.Debug("cross-validation finished",
		log.OperationKey, log.OperationCV,
		log.CVMeanKey, res.Mean, log.CVStdKey, res.Std, "cv.folds", len(folds))
	return res, nil
}

// fitAndScore trains on the train rows and scores the test rows. Panics in
// the estimator become errors.
func fitAndScore(factory model.Factory, X *mat.Dense, y []float64, train, test []int, scorer Scorer) (score float64, err error) {
	err = errors.SafeExecute("tuning.fitAndScore", func() error {
		est, err := factory()
		if err != nil {
			return err
		}
		Xtr, ytr := TakeRows(X, y, train)
		if err := est.Fit(Xtr, ytr); err != nil {
			return err
		}
		Xte, yte := TakeRows(X, y, test)
		pred, err := est.Predict(Xte)
		if err != nil {
			return err
		}
		score, err = scorer(yte, pred)
		return err
	})
	return score, err
}

// TakeRows copies the given rows of X and y.
func TakeRows(X mat.Matrix, y []float64, rows []int) (*mat.Dense, *mat.VecDense) {
	_, c := X.Dims()
	out := mat.NewDense(len(rows), c, nil)
	yy := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(r, j))
		}
		yy.SetVec(i, y[r])
	}
	return out, yy
}
