// Package pipeline runs one end-to-end training: load, clean, transform,
// split, engineer features, train every candidate, persist the artifacts and
// write the report files.
//
// Each stage finishes before the next one starts. Everything a run produces,
// including its event history, is returned to the caller; nothing is kept
// in package state.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/valuation/artifact"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/manager"
	"github.com/YuminosukeSato/valuation/metrics"
	"github.com/YuminosukeSato/valuation/models"
	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
	"github.com/YuminosukeSato/valuation/preprocessing"
	"github.com/YuminosukeSato/valuation/report"
)

// Stage names recorded in RunEvent.Stage.
const (
	StageLoad      = "load"
	StageClean     = "clean"
	StageTransform = "transform"
	StageSplit     = "split"
	StageEngineer  = "engineer"
	StageTrain     = "train"
	StageSave      = "save"
	StageReport    = "report"
	StageSnapshot  = "snapshot"
)

// CatalogDir is the Badger catalog directory under the models path.
const CatalogDir = "catalog"

// ErrNoModel is returned, together with the run result, when every
// candidate failed.
var ErrNoModel = errors.New("no candidate model trained successfully")

// RunEvent is one completed stage.
type RunEvent struct {
	Stage    string        `yaml:"stage" json:"stage"`
	At       time.Time     `yaml:"at" json:"at"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	Rows     int           `yaml:"rows" json:"rows"`
	Detail   string        `yaml:"detail,omitempty" json:"detail,omitempty"`
}

// RunResult is everything one run produced.
type RunResult struct {
	RunID    string
	DataPath string
	Clean    *dataset.CleanReport

	TrainRows int
	ValRows   int
	TestRows  int

	FeatureNames []string
	Results      []manager.Result
	Comparison   manager.Comparison

	// Best is the selected candidate. Validation holds its metrics on the
	// validation partition when the split has one.
	Best       *manager.Result
	Validation *metrics.Report

	Artifacts    []*artifact.Artifact
	ReportFiles  []string
	SnapshotPath string

	History []RunEvent
}

type runner struct {
	logger   log.Logger
	registry *models.Registry
	metrics  *manager.Metrics
	nJobs    int
	runID    string
	now      func() time.Time
}

// Option configures Run.
type Option func(*runner)

func WithLogger(l log.Logger) Option {
	return func(r *runner) { r.logger = l }
}

// WithRegistry replaces the model registry used for candidates and feature
// selection estimators.
func WithRegistry(reg *models.Registry) Option {
	return func(r *runner) { r.registry = reg }
}

// WithMetrics sets the Prometheus collectors of the model manager.
func WithMetrics(m *manager.Metrics) Option {
	return func(r *runner) { r.metrics = m }
}

// WithNJobs overrides hyperparameter_tuning.n_jobs.
func WithNJobs(n int) Option {
	return func(r *runner) { r.nJobs = n }
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(r *runner) { r.runID = id }
}

// Run executes the pipeline described by cfg. Missing input files and
// invalid configuration are returned as they are; a failing candidate is
// recorded in the results and does not stop the run.
func Run(ctx context.Context, cfg *config.Config, opts ...Option) (*RunResult, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("config", "must not be nil", nil)
	}
	r := &runner{registry: models.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	if r.nJobs == 0 {
		r.nJobs = cfg.HyperparameterTuning.NJobs
	}
	r.logger = log.OrDefault(r.logger, "pipeline").With(log.RunIDKey, r.runID)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateModels(r.registry.IsAvailable, r.registry.Available()); err != nil {
		return nil, err
	}

	res := &RunResult{RunID: r.runID}
	r.logger.Info("pipeline started",
		log.ConfigVersionKey, cfg.Models.Version,
		log.RandomSeedKey, cfg.DataSplitting.RandomState,
	)

	tbl, err := r.load(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	if tbl, err = r.clean(ctx, cfg, tbl, res); err != nil {
		return nil, err
	}
	if tbl, err = r.transform(ctx, cfg, tbl, res); err != nil {
		return nil, err
	}
	part, err := r.split(ctx, cfg, tbl, res)
	if err != nil {
		return nil, err
	}
	data, val, err := r.engineer(ctx, cfg, part, res)
	if err != nil {
		return nil, err
	}
	m, err := r.train(ctx, cfg, data, res)
	if err != nil {
		return nil, err
	}
	if err := r.save(ctx, cfg, m, res); err != nil {
		return nil, err
	}
	if res.Best != nil && val != nil {
		rep, err := metrics.EvaluateModel(res.Best.Success.Artifact.Estimator, val.X, mat.NewVecDense(len(val.Y), val.Y))
		if err != nil {
			return nil, errors.Wrap(err, "evaluate best model on validation set")
		}
		res.Validation = &rep
	}
	if err := r.report(ctx, cfg, data, res); err != nil {
		return nil, err
	}
	if err := r.snapshot(cfg, res); err != nil {
		return nil, err
	}

	if res.Best == nil {
		r.logger.Error("pipeline finished without a model", ErrNoModel)
		return res, ErrNoModel
	}
	r.logger.Info("pipeline finished",
		log.ModelNameKey, res.Best.Name,
		log.R2ScoreKey, res.Best.Success.Metrics.R2,
	)
	return res, nil
}

// record appends a finished stage to the history.
func (r *runner) record(res *RunResult, stage string, start time.Time, rows int, detail string) {
	ev := RunEvent{Stage: stage, At: start, Duration: r.now().Sub(start), Rows: rows, Detail: detail}
	res.History = append(res.History, ev)
	r.logger.Info("stage finished",
		log.PhaseKey, stage,
		log.SamplesKey, rows,
		log.DurationMsKey, ev.Duration.Milliseconds(),
	)
}

// DataFile resolves data.raw_data_path to a file. A directory resolves to
// its first file of the configured format.
func DataFile(cfg config.DataConfig) (string, dataset.Format, error) {
	format, err := dataset.ParseFormat(cfg.FileExtension)
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(cfg.RawDataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", errors.NewNotFoundError("raw data", cfg.RawDataPath)
		}
		return "", "", errors.Wrapf(err, "stat %s", cfg.RawDataPath)
	}
	if !info.IsDir() {
		return cfg.RawDataPath, format, nil
	}
	path, err := dataset.FindDataFile(cfg.RawDataPath, format)
	return path, format, err
}

func (r *runner) load(ctx context.Context, cfg *config.Config, res *RunResult) (*dataset.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := r.now()
	path, format, err := DataFile(cfg.Data)
	if err != nil {
		return nil, err
	}
	opts := []dataset.LoadOption{dataset.WithEncoding(cfg.Data.Encoding)}
	if cfg.Data.Encoding == "" {
		opts = nil
	}
	if cfg.Data.IndexColumn != "" {
		opts = append(opts, dataset.WithIndexColumn(cfg.Data.IndexColumn))
	}
	tbl, err := dataset.Load(path, format, opts...)
	if err != nil {
		return nil, err
	}
	res.DataPath = path
	r.logger.Info("dataset loaded",
		log.OperationKey, log.OperationLoad,
		log.PathKey, path,
		log.FormatKey, string(format),
		log.FeaturesKey, tbl.NumCols(),
	)
	r.record(res, StageLoad, start, tbl.NumRows(), path)
	return tbl, nil
}

// CleanOptions maps the data section onto the cleaner.
func CleanOptions(cfg config.DataConfig) dataset.CleanOptions {
	return dataset.CleanOptions{
		DropDuplicates:        cfg.DropDuplicates,
		MissingPolicy:         dataset.MissingPolicy(cfg.HandleMissing),
		NumericImputation:     dataset.Imputation(cfg.NumericImputation),
		CategoricalImputation: dataset.Imputation(cfg.CategoricalImputation),
		ConstantFill:          cfg.FillValue,
		OutlierMethod:         dataset.OutlierMethod(cfg.OutlierMethod),
		IQRMultiplier:         cfg.IQRMultiplier,
		ZScoreThreshold:       cfg.ZScoreThreshold,
		Columns:               cfg.OutlierColumns,
	}
}

func (r *runner) clean(ctx context.Context, cfg *config.Config, tbl *dataset.Table, res *RunResult) (*dataset.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := r.now()
	var err error
	if len(cfg.Data.TextColumns) > 0 {
		if tbl, err = dataset.StandardizeText(tbl, cfg.Data.TextColumns...); err != nil {
			return nil, err
		}
	}

	opts := CleanOptions(cfg.Data)
	opts.Logger = r.logger
	tbl, rep, err := dataset.Clean(tbl, opts)
	if err != nil {
		return nil, err
	}

	if len(cfg.Data.RangeRules) > 0 {
		rules := make(map[string]dataset.RangeRule, len(cfg.Data.RangeRules))
		for col, bounds := range cfg.Data.RangeRules {
			rules[col] = dataset.RangeRule{Min: bounds[0], Max: bounds[1]}
		}
		var removed int
		if tbl, removed, err = dataset.ValidateRanges(tbl, rules); err != nil {
			return nil, err
		}
		rep.RangeRowsRemoved = removed
		rep.RowsOut = tbl.NumRows()
		r.logger.Info("rows outside valid ranges removed",
			log.OperationKey, log.OperationClean,
			log.RowsRemovedKey, removed,
		)
	}
	if tbl.NumRows() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no rows left after cleaning")
	}
	res.Clean = rep
	r.record(res, StageClean, start, tbl.NumRows(), "")
	return tbl, nil
}

func (r *runner) transform(ctx context.Context, cfg *config.Config, tbl *dataset.Table, res *RunResult) (*dataset.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := r.now()
	out, err := dataset.Transform(tbl, dataset.TransformOptions{
		Lowercase:   cfg.Data.NormalizeColumnNames,
		Strip:       cfg.Data.NormalizeColumnNames,
		DateColumns: cfg.Data.DateColumns,
	})
	if err != nil {
		return nil, err
	}
	r.record(res, StageTransform, start, out.NumRows(), "")
	return out, nil
}

func (r *runner) split(ctx context.Context, cfg *config.Config, tbl *dataset.Table, res *RunResult) (*dataset.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := r.now()
	part, err := dataset.Split(tbl, cfg.Data.TargetColumn, dataset.SplitOptions{
		TestSize: cfg.DataSplitting.TestSize,
		ValSize:  cfg.DataSplitting.ValSize,
		Seed:     cfg.DataSplitting.RandomState,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, err
	}
	res.TrainRows, res.TestRows = part.Train.Len(), part.Test.Len()
	if part.Validation != nil {
		res.ValRows = part.Validation.Len()
	}
	if dir := cfg.Data.ProcessedDataPath; dir != "" {
		if err := dataset.SaveSplits(dir, part, cfg.Data.TargetColumn); err != nil {
			return nil, err
		}
	}
	r.record(res, StageSplit, start, tbl.NumRows(), "")
	return part, nil
}

// engineered is a partition after the feature pipeline.
type engineered struct {
	X *mat.Dense
	Y []float64
}

func (r *runner) engineer(ctx context.Context, cfg *config.Config, part *dataset.Partition, res *RunResult) (manager.Data, *engineered, error) {
	if err := ctx.Err(); err != nil {
		return manager.Data{}, nil, err
	}
	start := r.now()
	eng, err := preprocessing.NewEngineer(cfg.FeatureEngineering,
		preprocessing.WithEngineerLogger(r.logger),
		preprocessing.WithRegistry(r.registry),
	)
	if err != nil {
		return manager.Data{}, nil, err
	}
	if err := eng.Fit(part.Train.X, part.Train.Y); err != nil {
		return manager.Data{}, nil, err
	}
	xTrain, err := eng.TransformMatrix(part.Train.X)
	if err != nil {
		return manager.Data{}, nil, err
	}
	xTest, err := eng.TransformMatrix(part.Test.X)
	if err != nil {
		return manager.Data{}, nil, err
	}
	var val *engineered
	if part.Validation != nil {
		xVal, err := eng.TransformMatrix(part.Validation.X)
		if err != nil {
			return manager.Data{}, nil, err
		}
		val = &engineered{X: xVal, Y: part.Validation.Y}
	}

	res.FeatureNames = eng.FeatureNames()
	r.logger.Info("features engineered",
		log.OperationKey, log.OperationEngineer,
		log.FeaturesKey, len(res.FeatureNames),
		"feature.steps", eng.StepNames(),
	)
	r.record(res, StageEngineer, start, part.Train.Len(), "")
	return manager.Data{
		XTrain:       xTrain,
		YTrain:       part.Train.Y,
		XTest:        xTest,
		YTest:        part.Test.Y,
		FeatureNames: eng.FeatureNames(),
		Preprocessor: eng,
	}, val, nil
}

func (r *runner) train(ctx context.Context, cfg *config.Config, data manager.Data, res *RunResult) (*manager.Manager, error) {
	start := r.now()
	opts := []manager.Option{
		manager.WithLogger(r.logger),
		manager.WithRegistry(r.registry),
		manager.WithTuning(cfg.HyperparameterTuning),
		manager.WithCVFolds(cfg.HyperparameterTuning.CV),
		manager.WithRankingMetric(cfg.Models.RankingMetric),
		manager.WithRunID(r.runID),
		manager.WithVersion(cfg.Models.Version),
	}
	if r.metrics != nil {
		opts = append(opts, manager.WithMetrics(r.metrics))
	}
	if r.nJobs > 0 {
		opts = append(opts, manager.WithNJobs(r.nJobs))
	}
	m, err := manager.New(opts...)
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.Models.ModelList {
		if err := m.AddCandidate(name, cfg.Models.Params[name]); err != nil {
			return nil, err
		}
	}
	results, err := m.TrainAll(ctx, data)
	if err != nil {
		return nil, err
	}
	res.Results = results
	res.Comparison = m.Compare(cfg.Models.RankingMetric, false)
	if best, ok := m.BestResult(); ok {
		res.Best = &best
	}
	ok := 0
	for _, rr := range results {
		if rr.OK() {
			ok++
		}
	}
	r.record(res, StageTrain, start, len(data.YTrain), "")
	r.logger.Info("candidates trained", "candidates.total", len(results), "candidates.ok", ok)
	return m, nil
}

// OpenStore opens the artifact store of the models section, with a Badger
// catalog when models.catalog is "badger".
func OpenStore(cfg config.ModelsConfig, logger log.Logger) (*artifact.Store, error) {
	opts := []artifact.StoreOption{artifact.WithLogger(logger)}
	if cfg.Catalog == "badger" {
		if err := os.MkdirAll(cfg.SavePath, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", cfg.SavePath)
		}
		cat, err := artifact.OpenBadgerCatalog(filepath.Join(cfg.SavePath, CatalogDir))
		if err != nil {
			return nil, err
		}
		opts = append(opts, artifact.WithCatalog(cat))
	}
	return artifact.NewStore(cfg.SavePath, opts...)
}

func (r *runner) save(ctx context.Context, cfg *config.Config, m *manager.Manager, res *RunResult) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if res.Best == nil {
		return nil
	}
	start := r.now()
	store, err := OpenStore(cfg.Models, r.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	arts, err := m.SaveAll(store, cfg.Models.SaveBest)
	if err != nil {
		return err
	}
	res.Artifacts = arts
	r.record(res, StageSave, start, len(arts), store.Dir())
	return nil
}

func (r *runner) report(ctx context.Context, cfg *config.Config, data manager.Data, res *RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := cfg.Visualization.OutputPath
	if dir == "" || res.Best == nil {
		return nil
	}
	start := r.now()
	best := res.Best.Success.Artifact
	pred, err := best.Estimator.Predict(data.XTest)
	if err != nil {
		return errors.NewModelError("predict", res.Best.Name, err)
	}
	summary, err := report.Build(res.Best.Name, best.Estimator, data.FeatureNames, data.YTest, pred.RawVector().Data)
	if err != nil {
		return err
	}
	summary.Candidates = make(map[string]map[string]float64, len(res.Results))
	for _, rr := range res.Results {
		if rr.OK() {
			summary.Candidates[rr.Name] = rr.Success.Metrics.Map()
		}
	}
	files, err := report.Write(dir, summary, cfg.Visualization.Plots)
	if err != nil {
		return err
	}
	cmpPath := filepath.Join(dir, "model_comparison.md")
	if err := os.WriteFile(cmpPath, []byte(res.Comparison.Markdown()+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", cmpPath)
	}
	res.ReportFiles = append(files, cmpPath)
	r.record(res, StageReport, start, len(data.YTest), dir)
	return nil
}

// snapshot writes the resolved configuration and run history next to the
// artifacts.
func (r *runner) snapshot(cfg *config.Config, res *RunResult) error {
	start := r.now()
	dir := cfg.Models.SavePath
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	doc := struct {
		RunID   string         `yaml:"run_id"`
		Data    string         `yaml:"data_path"`
		Config  *config.Config `yaml:"config"`
		History []RunEvent     `yaml:"history"`
	}{res.RunID, res.DataPath, cfg, res.History}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode config snapshot")
	}
	path := filepath.Join(dir, "run_"+res.RunID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	res.SnapshotPath = path
	r.record(res, StageSnapshot, start, 0, path)
	return nil
}
