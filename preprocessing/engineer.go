package preprocessing

import (
	"context"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/decomposition"
	"github.com/YuminosukeSato/valuation/models"
	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
	"github.com/YuminosukeSato/valuation/selection"
)

// Step は Engineer の 1 段
type Step struct {
	Name        string
	Transformer Transformer
}

// Engineer は設定から組み立てた変換列を順に適用する。
// 順序は 日付特徴 → log/べき変換 → エンコード → 非数値列の除去 → スケーリング
// → 多項式 → 特徴選択 → PCA。Fit は訓練データでのみ行い、Transform は再学習しない。
type Engineer struct {
	model.StateManager
	Steps   []Step
	Inputs  []string // 学習時の入力列
	Outputs []string // 推定器に渡す列

	logger   log.Logger
	registry *models.Registry
}

// EngineerOption は Engineer の設定
type EngineerOption func(*Engineer)

// WithEngineerLogger はロガーを設定する
func WithEngineerLogger(l log.Logger) EngineerOption {
	return func(e *Engineer) { e.logger = l }
}

// WithRegistry は特徴選択の推定器を作るレジストリを差し替える
func WithRegistry(r *models.Registry) EngineerOption {
	return func(e *Engineer) { e.registry = r }
}

// selectorOverrides は選択用推定器の既定値に重ねるパラメータ
var selectorOverrides = map[string]model.Params{
	"lasso": {"alpha": 0.1},
}

// NewEngineer は cfg で有効な変換だけを並べた Engineer を作成する
func NewEngineer(cfg config.FeatureConfig, opts ...EngineerOption) (*Engineer, error) {
	e := &Engineer{}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = models.Default()
	}

	add := func(name string, tr Transformer) {
		e.Steps = append(e.Steps, Step{Name: name, Transformer: tr})
	}

	if cfg.TimeFeatures.Enabled {
		add("time_features", NewTimeFeatures(cfg.TimeFeatures.TimeColumns...))
	}
	if len(cfg.Transforms.LogColumns) > 0 {
		add("log", NewLogTransformer(cfg.Transforms.LogColumns...))
	}
	if len(cfg.Transforms.PowerColumns) > 0 {
		pt, err := NewPowerTransformer(cfg.Transforms.PowerMethod, cfg.Transforms.PowerColumns...)
		if err != nil {
			return nil, err
		}
		add("power", pt)
	}
	if cfg.Encoding.Enabled {
		enc, err := NewEncoder(cfg.Encoding.Method, cfg.Encoding.Smoothing, cfg.Encoding.CategoricalColumns...)
		if err != nil {
			return nil, err
		}
		add("encoding", enc)
	}
	add("drop_non_numeric", &DropNonNumeric{})
	if cfg.Scaling.Enabled {
		sc, err := NewScaler(cfg.Scaling.Method, cfg.Scaling.Columns...)
		if err != nil {
			return nil, err
		}
		add("scaling", sc)
	}
	if cfg.Polynomial.Enabled {
		add("polynomial", NewPolynomialFeatures(cfg.Polynomial.Degree, cfg.Polynomial.InteractionOnly))
	}
	if cfg.FeatureSelection.Enabled {
		sel, err := e.newSelector(cfg.FeatureSelection)
		if err != nil {
			return nil, err
		}
		add("selection:"+cfg.FeatureSelection.Method, sel)
	}
	if cfg.PCA.Enabled {
		pca, err := decomposition.NewPCA(cfg.PCA.NComponents)
		if err != nil {
			return nil, err
		}
		add("pca", pca)
	}
	return e, nil
}

func (e *Engineer) newSelector(cfg config.SelectionConfig) (Transformer, error) {
	estimator := cfg.Estimator
	if estimator == "" {
		estimator = models.RandomForest.String()
	}
	factory := func(extra model.Params) (model.Factory, error) {
		overrides := selectorOverrides[estimator].Clone()
		return e.registry.Factory(estimator, overrides.Merge(extra))
	}

	switch cfg.Method {
	case "variance", "":
		return selection.NewVarianceThreshold(cfg.Threshold), nil
	case "correlation":
		return selection.NewSelectKBest(cfg.K, selection.ScoreFRegression)
	case "mutual_info":
		return selection.NewSelectKBest(cfg.K, selection.ScoreMutualInfo)
	case "rfe":
		f, err := factory(nil)
		if err != nil {
			return nil, err
		}
		return selection.NewRFE(estimator, f, cfg.K, 1), nil
	case "model":
		f, err := factory(nil)
		if err != nil {
			return nil, err
		}
		threshold := "mean"
		if cfg.Threshold > 0 {
			threshold = strconv.FormatFloat(cfg.Threshold, 'g', -1, 64)
		}
		return selection.NewSelectFromModel(estimator, f, threshold), nil
	case "sequential":
		var extra model.Params
		if estimator == models.RandomForest.String() {
			extra = model.Params{"n_estimators": 50}
		}
		f, err := factory(extra)
		if err != nil {
			return nil, err
		}
		return selection.NewSequentialSelector(estimator, f, cfg.K, cfg.Direction, cfg.CV)
	default:
		return nil, errors.NewConfigurationError("feature_engineering.feature_selection.method", cfg.Method,
			"variance", "correlation", "mutual_info", "rfe", "model", "sequential")
	}
}

func (e *Engineer) log() log.Logger {
	return log.OrDefault(e.logger, "preprocessing")
}

// Fit は各段を順に学習する。各段は前段の出力で学習する。
func (e *Engineer) Fit(t *dataset.Table, y []float64) error {
	_, err := e.FitTransform(t, y)
	return err
}

// FitTransform は学習と訓練データの変換を 1 回の走査で行う
func (e *Engineer) FitTransform(t *dataset.Table, y []float64) (*dataset.Table, error) {
	if t.NumRows() == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	if y != nil && len(y) != t.NumRows() {
		return nil, errors.NewDimensionError("Engineer.Fit", t.NumRows(), len(y), 0)
	}
	start := time.Now()
	logger := e.log()
	e.Reset()
	e.Inputs = t.Names()

	cur := t
	for _, s := range e.Steps {
		before := cur.NumCols()
		next, err := FitTransform(s.Transformer, cur, y)
		if err != nil {
			return nil, errors.Wrapf(err, "feature step %s", s.Name)
		}
		cur = next
		if logger.Enabled(context.Background(), log.LevelDebug) {
			logger.Debug("feature step fitted",
				log.OperationKey, log.OperationEngineer,
				"step", s.Name,
				"columns_in", before,
				log.FeaturesKey, cur.NumCols(),
			)
		}
	}
	if len(cur.NumericColumns()) != cur.NumCols() {
		return nil, errors.NewValidationError("features", "engineered table still has non-numeric columns", cur.NumCols())
	}
	e.Outputs = cur.Names()
	e.SetFitted(len(e.Inputs), t.NumRows())

	logger.Info("feature engineering fitted",
		log.OperationKey, log.OperationEngineer,
		log.SamplesKey, t.NumRows(),
		log.FeaturesKey, len(e.Outputs),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return cur, nil
}

// Transform は学習済みの各段を再学習せずに適用する
func (e *Engineer) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := e.RequireFitted("Engineer", "Transform"); err != nil {
		return nil, err
	}
	for _, name := range e.Inputs {
		if _, err := t.RequireColumn(name); err != nil {
			return nil, err
		}
	}
	cur := t
	for _, s := range e.Steps {
		next, err := s.Transformer.Transform(cur)
		if err != nil {
			return nil, errors.Wrapf(err, "feature step %s", s.Name)
		}
		cur = next
	}
	return cur.Select(e.Outputs...)
}

// TransformMatrix は Transform の結果を Outputs 順の行列で返す
func (e *Engineer) TransformMatrix(t *dataset.Table) (*mat.Dense, error) {
	out, err := e.Transform(t)
	if err != nil {
		return nil, err
	}
	return out.Matrix(e.Outputs...)
}

// FeatureNames は推定器に渡す列名を返す
func (e *Engineer) FeatureNames() []string {
	return append([]string(nil), e.Outputs...)
}

// StepNames は各段の名前を順に返す
func (e *Engineer) StepNames() []string {
	names := make([]string, len(e.Steps))
	for i, s := range e.Steps {
		names[i] = s.Name
	}
	return names
}
