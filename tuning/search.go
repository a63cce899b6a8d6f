package tuning

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/stats"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// Grid maps a hyperparameter name to the values to try.
type Grid map[string][]any

// ParamFactory builds an unfitted estimator with params merged over its
// defaults.
type ParamFactory func(params model.Params) (model.Regressor, error)

// Candidates expands the grid into its cartesian product. Keys are taken in
// sorted order and the last key varies fastest. An empty grid yields one
// empty assignment.
func (g Grid) Candidates() []model.Params {
	keys := model.Params{}
	for k := range g {
		keys[k] = nil
	}
	out := []model.Params{{}}
	for _, k := range keys.Keys() {
		values := g[k]
		if len(values) == 0 {
			continue
		}
		next := make([]model.Params, 0, len(out)*len(values))
		for _, p := range out {
			for _, v := range values {
				q := p.Clone()
				q[k] = v
				next = append(next, q)
			}
		}
		out = next
	}
	return out
}

// CandidateResult is the cross-validation outcome of one assignment. Err is
// set when the candidate could not be fitted; its scores are then NaN.
type CandidateResult struct {
	Params model.Params
	CVResult
	Err error
}

// SearchResult holds the winning assignment and the estimator refit on the
// full training data with it.
type SearchResult struct {
	BestParams    model.Params
	BestScore     float64
	BestEstimator model.Regressor
	Results       []CandidateResult
}

// GridSearch tries every assignment of Grid.
type GridSearch struct {
	Factory ParamFactory
	Grid    Grid
	CV      KFold
	Scoring string
}

func (s *GridSearch) Fit(ctx context.Context, X *mat.Dense, y []float64, opts ...Option) (*SearchResult, error) {
	return search(ctx, s.Factory, s.Grid.Candidates(), X, y, s.CV, s.Scoring, opts)
}

// RandomSearch tries NIter assignments drawn without replacement from Grid
// by a PCG stream seeded with Seed. The whole grid is tried when it is not
// larger than NIter.
type RandomSearch struct {
	Factory ParamFactory
	Grid    Grid
	NIter   int
	Seed    uint64
	CV      KFold
	Scoring string
}

func (s *RandomSearch) Fit(ctx context.Context, X *mat.Dense, y []float64, opts ...Option) (*SearchResult, error) {
	if s.NIter < 1 {
		return nil, errors.NewValidationError("n_iter", "must be >= 1", s.NIter)
	}
	return search(ctx, s.Factory, s.sample(), X, y, s.CV, s.Scoring, opts)
}

func (s *RandomSearch) sample() []model.Params {
	all := s.Grid.Candidates()
	if len(all) <= s.NIter {
		return all
	}
	perm := rand.New(rand.NewPCG(s.Seed, s.Seed)).Perm(len(all))
	out := make([]model.Params, s.NIter)
	for i := range out {
		out[i] = all[perm[i]]
	}
	return out
}

// search evaluates every (candidate, fold) pair in one bounded errgroup and
// picks the best mean score with a strict comparison, so the first of equal
// candidates wins.
func search(ctx context.Context, factory ParamFactory, candidates []model.Params, X *mat.Dense, y []float64, cv KFold, scoring string, opts []Option) (*SearchResult, error) {
	if factory == nil {
		return nil, errors.NewValidationError("factory", "search needs an estimator factory", nil)
	}
	scorer, err := GetScorer(scoring)
	if err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	if len(y) != r {
		return nil, errors.NewDimensionError("search", r, len(y), 0)
	}
	folds, err := cv.Split(r)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	start := time.Now()
	scores := make([][]float64, len(candidates))
	errs := make([]error, len(candidates)*len(folds))
	for c := range scores {
		scores[c] = make([]float64, len(folds))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.nJobs)
	for c, params := range candidates {
		for f, fold := range folds {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				build := func() (model.Regressor, error) { return factory(params) }
				s, err := fitAndScore(build, X, y, fold.Train, fold.Test, scorer)
				if err != nil {
					errs[c*len(folds)+f] = err
					s = math.NaN()
				}
				scores[c][f] = s
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &SearchResult{BestScore: math.NaN(), Results: make([]CandidateResult, len(candidates))}
	best := -1
	for c, params := range candidates {
		cr := CandidateResult{Params: params}
		for f := range folds {
			if e := errs[c*len(folds)+f]; e != nil {
				cr.Err = e
				break
			}
		}
		if cr.Err != nil {
			cr.Scores, cr.Mean, cr.Std = scores[c], math.NaN(), math.NaN()
			o.logger.Warn("candidate failed during search", cr.Err, log.HyperParamsKey, params.String())
		} else {
			mean, std := stats.MeanStd(scores[c])
			cr.CVResult = CVResult{Scores: scores[c], Mean: mean, Std: std}
			if better(mean, res.BestScore) {
				best, res.BestScore = c, mean
			}
		}
		res.Results[c] = cr
	}
	if best < 0 {
		return nil, errors.NewModelError("search", "tuning", errors.New("every candidate failed"))
	}

	res.BestParams = candidates[best]
	est, err := factory(res.BestParams)
	if err != nil {
		return nil, err
	}
	full := mat.NewVecDense(len(y), append([]float64(nil), y...))
	if err := est.Fit(X, full); err != nil {
		return nil, errors.Wrap(err, "refit best candidate")
	}
	res.BestEstimator = est

	o.logger.Info("hyperparameter search finished",
		log.OperationKey, log.OperationTune,
		log.HyperParamsKey, res.BestParams.String(),
		log.ScoreKey, res.BestScore,
		"search.candidates", len(candidates),
		log.DurationMsKey, time.Since(start).Milliseconds())
	return res, nil
}
