package tuning

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// DefaultTrainSizes are the training-set fractions used when none are given.
var DefaultTrainSizes = []float64{0.1, 0.325, 0.55, 0.775, 1.0}

// LearningCurveResult holds per-size, per-fold scores. TrainScores are
// measured on the rows the estimator was fitted on.
type LearningCurveResult struct {
	TrainSizes  []int       `json:"train_sizes"`
	TrainScores [][]float64 `json:"train_scores"`
	TestScores  [][]float64 `json:"test_scores"`
}

// TrainMean and TestMean average across folds for each size.
func (r *LearningCurveResult) TrainMean() []float64 { return rowMeans(r.TrainScores) }

func (r *LearningCurveResult) TestMean() []float64 { return rowMeans(r.TestScores) }

func rowMeans(scores [][]float64) []float64 {
	out := make([]float64, len(scores))
	for i, row := range scores {
		out[i] = summarize(row).Mean
	}
	return out
}

// LearningCurve scores an estimator fitted on growing prefixes of each
// training fold. A size in (0, 1] is a fraction of the smallest training
// fold; a size above 1 is an absolute row count.
func LearningCurve(ctx context.Context, factory model.Factory, X *mat.Dense, y []float64, trainSizes []float64, cv KFold, scoring string, opts ...Option) (*LearningCurveResult, error) {
	scorer, err := GetScorer(scoring)
	if err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	if len(y) != r {
		return nil, errors.NewDimensionError("LearningCurve", r, len(y), 0)
	}
	folds, err := cv.Split(r)
	if err != nil {
		return nil, err
	}
	if len(trainSizes) == 0 {
		trainSizes = DefaultTrainSizes
	}

	maxTrain := r
	for _, f := range folds {
		maxTrain = min(maxTrain, len(f.Train))
	}
	sizes := make([]int, len(trainSizes))
	for i, s := range trainSizes {
		n := int(s)
		if s > 0 && s <= 1 {
			n = int(math.Ceil(s * float64(maxTrain)))
		}
		if n < 1 || n > maxTrain {
			return nil, errors.NewValidationError("train_sizes", "outside (0, smallest training fold]", s)
		}
		sizes[i] = n
	}

	o := buildOptions(opts)
	res := &LearningCurveResult{
		TrainSizes:  sizes,
		TrainScores: make([][]float64, len(sizes)),
		TestScores:  make([][]float64, len(sizes)),
	}
	for i := range sizes {
		res.TrainScores[i] = make([]float64, len(folds))
		res.TestScores[i] = make([]float64, len(folds))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.nJobs)
	for i, n := range sizes {
		for f, fold := range folds {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				train := fold.Train[:n]
				trainScore, err := fitAndScore(factory, X, y, train, train, scorer)
				if err != nil {
					return errors.Wrapf(err, "train size %d fold %d", n, f)
				}
				testScore, err := fitAndScore(factory, X, y, train, fold.Test, scorer)
				if err != nil {
					return errors.Wrapf(err, "train size %d fold %d", n, f)
				}
				res.TrainScores[i][f] = trainScore
				res.TestScores[i][f] = testScore
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	o.logger.Debug("learning curve finished",
		log.OperationKey, log.OperationCV, "curve.sizes", sizes, "cv.folds", len(folds))
	return res, nil
}
