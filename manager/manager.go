// Package manager trains a set of candidate models, evaluates them on a
// held-out set and selects the best one.
//
// Each candidate moves through pending → training → evaluated → ranked, or
// ends in failed when building, tuning, fitting, evaluating or
// cross-validating it goes wrong. A failure is recorded in the candidate's
// Result and never stops the run.
package manager

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/artifact"
	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/metrics"
	"github.com/YuminosukeSato/valuation/models"
	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
	"github.com/YuminosukeSato/valuation/preprocessing"
	"github.com/YuminosukeSato/valuation/tuning"
)

// Failure stages.
const (
	StageBuild    = "build"
	StageTune     = "tune"
	StageFit      = "fit"
	StageEvaluate = "evaluate"
	StageCV       = "cross_validate"
)

const (
	// DefaultCVFolds is the fold count of the robustness cross-validation.
	DefaultCVFolds = 5

	// DefaultRankingMetric orders evaluated candidates.
	DefaultRankingMetric = "r2"

	// BestSuffix is appended to the best model's name by SaveAll.
	BestSuffix = "_best"
)

// Candidate is a named model configuration.
type Candidate struct {
	Name   string
	Kind   models.Kind
	Params model.Params
	State  State
}

// Success is the outcome of a candidate that was trained and evaluated.
type Success struct {
	Artifact   *artifact.Artifact
	Metrics    metrics.Report
	CV         tuning.CVResult
	BestParams model.Params
	Duration   time.Duration
}

// Failure records why a candidate did not finish.
type Failure struct {
	Stage  string
	Reason string
	Err    error
}

// Result is the per-candidate outcome. Exactly one of Success and Failure
// is set.
type Result struct {
	Name    string
	Kind    models.Kind
	State   State
	Success *Success
	Failure *Failure
}

// OK reports whether the candidate succeeded.
func (r Result) OK() bool { return r.Success != nil }

// Score returns the named holdout metric of a successful candidate.
func (r Result) Score(metric string) (float64, bool) {
	if r.Success == nil {
		return math.NaN(), false
	}
	v, err := r.Success.Metrics.Get(metric)
	return v, err == nil
}

// Data is the engineered input of a run. The feature matrices are already
// transformed by Preprocessor, which is attached to every artifact.
type Data struct {
	XTrain       *mat.Dense
	YTrain       []float64
	XTest        *mat.Dense
	YTest        []float64
	FeatureNames []string
	Preprocessor *preprocessing.Engineer
}

func (d Data) validate() error {
	if d.XTrain == nil || d.XTest == nil {
		return errors.NewValidationError("data", "train and test matrices are required", nil)
	}
	r, c := d.XTrain.Dims()
	if r == 0 {
		return errors.ErrEmptyData
	}
	if len(d.YTrain) != r {
		return errors.NewDimensionError("TrainAll", r, len(d.YTrain), 0)
	}
	tr, tc := d.XTest.Dims()
	if tr == 0 {
		return errors.NewValidationError("data", "test set is empty", nil)
	}
	if len(d.YTest) != tr {
		return errors.NewDimensionError("TrainAll", tr, len(d.YTest), 0)
	}
	if tc != c {
		return errors.NewDimensionError("TrainAll", c, tc, 1)
	}
	if d.FeatureNames != nil && len(d.FeatureNames) != c {
		return errors.NewDimensionError("TrainAll", c, len(d.FeatureNames), 1)
	}
	return nil
}

// Manager owns the candidates and results of one run. It is not safe for
// concurrent use.
type Manager struct {
	candidates []*Candidate
	results    []Result
	best       int

	registry      *models.Registry
	tuning        config.TuningConfig
	cvFolds       int
	rankingMetric string
	nJobs         int
	runID         string
	version       string

	logger  log.Logger
	metrics *Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics reports to m instead of DefaultMetrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRegistry builds candidates from r instead of models.Default.
func WithRegistry(r *models.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithTuning enables hyperparameter search for candidates that have a grid.
func WithTuning(cfg config.TuningConfig) Option {
	return func(m *Manager) { m.tuning = cfg }
}

func WithCVFolds(k int) Option {
	return func(m *Manager) { m.cvFolds = k }
}

// WithRankingMetric selects the holdout metric used to pick the best model.
// r2 and explained_variance are maximised, error metrics are minimised.
func WithRankingMetric(name string) Option {
	return func(m *Manager) { m.rankingMetric = name }
}

// WithNJobs bounds fold parallelism of tuning and cross-validation.
func WithNJobs(n int) Option {
	return func(m *Manager) { m.nJobs = n }
}

// WithRunID stamps artifacts with the id of the pipeline run.
func WithRunID(id string) Option {
	return func(m *Manager) { m.runID = id }
}

// WithVersion fixes the artifact version. Empty means the store picks the
// next version.
func WithVersion(v string) Option {
	return func(m *Manager) { m.version = v }
}

// New returns a Manager with no candidates.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		best:          -1,
		cvFolds:       DefaultCVFolds,
		rankingMetric: DefaultRankingMetric,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = models.Default()
	}
	if m.metrics == nil {
		m.metrics = DefaultMetrics()
	}
	m.logger = log.OrDefault(m.logger, "manager")
	if _, err := (metrics.Report{}).Get(m.rankingMetric); err != nil {
		return nil, err
	}
	if m.cvFolds < 2 {
		return nil, errors.NewValidationError("cv", "needs at least 2 folds", m.cvFolds)
	}
	return m, nil
}

// AddCandidate declares a candidate. The name is validated against the
// registry here, so later stages never see an unknown model. Adding an
// existing name replaces its parameters and keeps its position.
func (m *Manager) AddCandidate(name string, params model.Params) error {
	if !m.registry.IsAvailable(name) {
		return errors.NewConfigurationError("models.model_list", name, m.registry.Available()...)
	}
	kind, _ := models.ParseKind(name)
	for _, c := range m.candidates {
		if c.Name == name {
			if c.State != Pending {
				return errors.NewValidationError("candidate", "already trained", name)
			}
			c.Params = params.Clone()
			return nil
		}
	}
	m.candidates = append(m.candidates, &Candidate{Name: name, Kind: kind, Params: params.Clone()})
	m.logger.Debug("candidate added", log.ModelNameKey, name)
	return nil
}

// Candidates returns copies of the declared candidates in declaration order.
func (m *Manager) Candidates() []Candidate {
	out := make([]Candidate, len(m.candidates))
	for i, c := range m.candidates {
		out[i] = *c
		out[i].Params = c.Params.Clone()
	}
	return out
}

// TrainAll trains every candidate, cross-validates the evaluated ones on the
// training data and ranks them. The returned slice belongs to the caller. An
// error is returned only for invalid input or a cancelled context; candidate
// failures are reported in the results.
func (m *Manager) TrainAll(ctx context.Context, data Data) ([]Result, error) {
	if err := data.validate(); err != nil {
		return nil, err
	}
	if len(m.candidates) == 0 {
		return nil, errors.NewValidationError("candidates", "no candidate to train", nil)
	}
	for _, c := range m.candidates {
		if c.State != Pending {
			return nil, errors.NewValidationError("candidate", "already trained", c.Name)
		}
	}
	r, c := data.XTrain.Dims()
	m.logger.Info("training candidates",
		log.OperationKey, log.OperationFit,
		"candidates", len(m.candidates),
		log.SamplesKey, r,
		log.FeaturesKey, c,
	)

	m.results = make([]Result, len(m.candidates))
	m.best = -1
	for i, cand := range m.candidates {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "train candidates")
		}
		m.results[i] = m.trainOne(ctx, cand, data)
	}

	for i, cand := range m.candidates {
		if cand.State != Evaluated {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "cross-validate candidates")
		}
		m.crossValidate(ctx, cand, &m.results[i], data)
	}

	m.rank()
	for i, cand := range m.candidates {
		m.results[i].State = cand.State
		m.metrics.Candidates.WithLabelValues(cand.Name, cand.State.String()).Inc()
	}
	return m.Results(), nil
}

func (m *Manager) trainOne(ctx context.Context, cand *Candidate, data Data) Result {
	res := Result{Name: cand.Name, Kind: cand.Kind}
	logger := m.logger.With(log.ModelNameKey, cand.Name)
	m.advance(cand, Training)
	start := time.Now()

	fail := func(stage string, err error) Result {
		m.advance(cand, Failed)
		res.State = Failed
		res.Failure = &Failure{Stage: stage, Reason: err.Error(), Err: err}
		logger.Error("candidate failed", err,
			log.PhaseKey, stage,
			log.ErrorCodeKey, log.ErrorCandidateFailed,
		)
		return res
	}

	var (
		est        model.Regressor
		bestParams model.Params
	)
	if err := errors.SafeExecute("build "+cand.Name, func() error {
		var err error
		est, _, err = m.registry.New(cand.Name, cand.Params)
		return err
	}); err != nil {
		return fail(StageBuild, err)
	}

	if grid, ok := m.grid(cand.Name); ok {
		var sr *tuning.SearchResult
		err := errors.SafeExecute("tune "+cand.Name, func() error {
			var err error
			sr, err = m.search(ctx, cand, grid, data)
			return err
		})
		if err != nil {
			return fail(StageTune, err)
		}
		est, bestParams = sr.BestEstimator, sr.BestParams
		logger.Info("hyperparameters tuned",
			log.OperationKey, log.OperationTune,
			log.HyperParamsKey, bestParams.String(),
			log.ScoreKey, sr.BestScore,
		)
	} else {
		if _, err := models.TrainWithLogger(logger, est, data.XTrain, mat.NewVecDense(len(data.YTrain), data.YTrain)); err != nil {
			return fail(StageFit, errors.NewModelError("fit", cand.Name, err))
		}
	}
	duration := time.Since(start)
	m.metrics.FitDuration.WithLabelValues(cand.Name).Observe(duration.Seconds())

	var report metrics.Report
	if err := errors.SafeExecute("evaluate "+cand.Name, func() error {
		var err error
		report, err = metrics.EvaluateModel(est, data.XTest, mat.NewVecDense(len(data.YTest), data.YTest))
		return err
	}); err != nil {
		return fail(StageEvaluate, err)
	}
	m.advance(cand, Evaluated)
	res.State = Evaluated
	logger.Info("candidate evaluated",
		log.OperationKey, log.OperationEvaluate,
		log.R2ScoreKey, report.R2,
		log.RMSEKey, report.RMSE,
		log.DurationMsKey, duration.Milliseconds(),
	)

	res.Success = &Success{
		Artifact: &artifact.Artifact{
			Metadata: artifact.Metadata{
				ModelName:    cand.Name,
				Kind:         cand.Kind.String(),
				Version:      m.version,
				Params:       est.Params(),
				FeatureNames: append([]string(nil), data.FeatureNames...),
				NFeatures:    est.NFeatures(),
				Metrics:      report.Map(),
				RunID:        m.runID,
			},
			Estimator:    est,
			Preprocessor: data.Preprocessor,
		},
		Metrics:    report,
		BestParams: bestParams,
		Duration:   duration,
	}
	return res
}

func (m *Manager) grid(name string) (tuning.Grid, bool) {
	if !m.tuning.Enabled {
		return nil, false
	}
	g, ok := m.tuning.ParamGrids[name]
	if !ok || len(g) == 0 {
		return nil, false
	}
	return tuning.Grid(g), true
}

func (m *Manager) search(ctx context.Context, cand *Candidate, grid tuning.Grid, data Data) (*tuning.SearchResult, error) {
	folds := m.tuning.CV
	if folds == 0 {
		folds = DefaultCVFolds
	}
	scoring := m.tuning.Scoring
	if scoring == "" {
		scoring = "neg_mean_squared_error"
	}
	cv := tuning.KFold{NSplits: folds}
	factory := tuning.ParamFactory(m.registry.ParamFactory(cand.Name, cand.Params))
	opts := []tuning.Option{tuning.WithNJobs(m.nJobs), tuning.WithLogger(m.logger)}

	switch m.tuning.Method {
	case "", "grid_search":
		s := &tuning.GridSearch{Factory: factory, Grid: grid, CV: cv, Scoring: scoring}
		return s.Fit(ctx, data.XTrain, data.YTrain, opts...)
	case "random_search":
		nIter := m.tuning.NIter
		if nIter == 0 {
			nIter = 10
		}
		s := &tuning.RandomSearch{
			Factory: factory, Grid: grid, NIter: nIter, Seed: m.tuning.RandomState,
			CV: cv, Scoring: scoring,
		}
		return s.Fit(ctx, data.XTrain, data.YTrain, opts...)
	default:
		return nil, errors.NewConfigurationError("hyperparameter_tuning.method", m.tuning.Method,
			"grid_search", "random_search")
	}
}

// crossValidate scores fresh copies of the evaluated estimator with r2 on
// the training data. The holdout metrics are left alone.
func (m *Manager) crossValidate(ctx context.Context, cand *Candidate, res *Result, data Data) {
	params := res.Success.Artifact.Estimator.Params()
	factory := func() (model.Regressor, error) {
		est, _, err := m.registry.New(cand.Name, params)
		return est, err
	}
	var cv tuning.CVResult
	err := errors.SafeExecute("cross-validate "+cand.Name, func() error {
		var err error
		cv, err = tuning.CrossValScore(ctx, factory, data.XTrain, data.YTrain,
			tuning.KFold{NSplits: m.cvFolds}, "r2",
			tuning.WithNJobs(m.nJobs), tuning.WithLogger(m.logger))
		return err
	})
	if err != nil {
		m.advance(cand, Failed)
		res.State = Failed
		res.Success = nil
		res.Failure = &Failure{Stage: StageCV, Reason: err.Error(), Err: err}
		m.logger.Error("candidate failed", err,
			log.ModelNameKey, cand.Name,
			log.PhaseKey, StageCV,
			log.ErrorCodeKey, log.ErrorCandidateFailed,
		)
		return
	}
	res.Success.CV = cv
	res.Success.Artifact.Metadata.CVMean = cv.Mean
	res.Success.Artifact.Metadata.CVStd = cv.Std
	m.logger.Debug("candidate cross-validated",
		log.ModelNameKey, cand.Name,
		log.OperationKey, log.OperationCV,
		log.CVMeanKey, cv.Mean,
		log.CVStdKey, cv.Std,
	)
}

// rank makes a single left-to-right pass over the evaluated candidates and
// keeps the first one with the strictly best ranking score.
func (m *Manager) rank() {
	sign := 1.0
	if !metrics.GreaterIsBetter(m.rankingMetric) {
		sign = -1
	}
	scores := make([]float64, len(m.results))
	for i, cand := range m.candidates {
		scores[i] = math.NaN()
		if cand.State != Evaluated {
			continue
		}
		if v, ok := m.results[i].Score(m.rankingMetric); ok {
			scores[i] = sign * v
		}
		m.advance(cand, Ranked)
	}
	m.best = selectBest(scores)
	if m.best < 0 {
		m.logger.Warn("no candidate was evaluated", log.OperationKey, log.OperationScore)
		return
	}
	best := sign * scores[m.best]
	m.metrics.BestScore.Set(best)
	m.logger.Info("best model selected",
		log.OperationKey, log.OperationScore,
		log.ModelNameKey, m.candidates[m.best].Name,
		log.ScoreKey, best,
		"ranking_metric", m.rankingMetric,
	)
}

// selectBest returns the index of the first strictly largest score, or -1
// when every score is NaN.
func selectBest(scores []float64) int {
	best := -1
	for i, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	return best
}

// Results returns a copy of the results of the last TrainAll.
func (m *Manager) Results() []Result {
	return append([]Result(nil), m.results...)
}

// Best returns the best candidate of the last TrainAll with its fitted
// estimator and ranking score. ok is false when no candidate was evaluated.
func (m *Manager) Best() (name string, est model.Regressor, score float64, ok bool) {
	if m.best < 0 {
		return "", nil, math.Inf(-1), false
	}
	res := m.results[m.best]
	score, _ = res.Score(m.rankingMetric)
	return res.Name, res.Success.Artifact.Estimator, score, true
}

// BestResult returns the Result of the best candidate.
func (m *Manager) BestResult() (Result, bool) {
	if m.best < 0 {
		return Result{}, false
	}
	return m.results[m.best], true
}

// SaveAll stores the artifact of every successful candidate, and a copy of
// the best one named "{best}_best" when includeBest is set. It returns the
// stored artifacts in declaration order, the best copy last.
func (m *Manager) SaveAll(store *artifact.Store, includeBest bool) ([]*artifact.Artifact, error) {
	var saved []*artifact.Artifact
	for _, res := range m.results {
		if !res.OK() {
			continue
		}
		a, err := store.Save(res.Success.Artifact)
		if err != nil {
			return saved, errors.Wrapf(err, "save %s", res.Name)
		}
		saved = append(saved, a)
	}
	if includeBest && m.best >= 0 {
		res := m.results[m.best]
		a, err := store.Save(res.Success.Artifact.WithName(res.Name + BestSuffix))
		if err != nil {
			return saved, errors.Wrapf(err, "save best model %s", res.Name)
		}
		saved = append(saved, a)
	}
	m.logger.Info("artifacts saved",
		log.OperationKey, log.OperationSave,
		log.PathKey, store.Dir(),
		"artifacts", len(saved),
	)
	return saved, nil
}
