// Package predict serves predictions from stored artifacts.
package predict

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/artifact"
	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// DefaultBatchSize is the chunk size of BatchPredict.
const DefaultBatchSize = 1000

// Prediction is a single-row result.
type Prediction struct {
	Value     float64 `json:"prediction"`
	ModelUsed string  `json:"model_used"`
}

// Estimate is a property valuation.
type Estimate struct {
	Value      float64        `json:"prediction"`
	Formatted  string         `json:"formatted_value"`
	Confidence float64        `json:"confidence"`
	ModelUsed  string         `json:"model_used"`
	Features   map[string]any `json:"property_features"`
}

// Info describes the served artifact.
type Info struct {
	artifact.Metadata
	Type          string    `json:"model_type"`
	Path          string    `json:"model_path"`
	Importances   []float64 `json:"feature_importances,omitempty"`
	HasPreprocess bool      `json:"has_preprocessor"`
}

// Service predicts with one artifact of a store. The artifact is loaded at
// construction, or on first use with WithLazyLoad. A Service is safe for
// concurrent use once loaded.
type Service struct {
	store   *artifact.Store
	name    string
	version string
	lazy    bool

	logger    log.Logger
	formatter Formatter
	rules     ConfidenceRules

	mu  sync.Mutex
	art *artifact.Artifact
}

// Option configures a Service.
type Option func(*Service)

// WithVersion pins the artifact version. The latest version is served
// otherwise.
func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// WithLazyLoad defers loading until the first prediction.
func WithLazyLoad() Option {
	return func(s *Service) { s.lazy = true }
}

func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithFormatter(f Formatter) Option {
	return func(s *Service) { s.formatter = f }
}

func WithConfidenceRules(r ConfidenceRules) Option {
	return func(s *Service) { s.rules = r }
}

// NewService serves the artifact name of store.
func NewService(store *artifact.Store, name string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.NewValidationError("store", "must not be nil", nil)
	}
	s := &Service{
		store:     store,
		name:      name,
		formatter: DefaultFormatter(),
		rules:     DefaultConfidenceRules(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDefault(s.logger, "predict")
	if err := s.rules.Validate(); err != nil {
		return nil, err
	}
	if !s.lazy {
		if _, err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) load() (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.art != nil {
		return s.art, nil
	}
	var (
		a   *artifact.Artifact
		err error
	)
	if s.version == "" {
		a, err = s.store.LoadLatest(s.name)
	} else {
		a, err = s.store.Load(s.name, s.version)
	}
	if err != nil {
		return nil, err
	}
	s.art = a
	s.logger.Info("model loaded",
		log.OperationKey, log.OperationLoad,
		log.ModelNameKey, a.Metadata.ModelName,
		log.ModelVersionKey, a.Metadata.Version,
		log.FeaturesKey, nFeatures(a),
	)
	return a, nil
}

// Loaded reports whether the artifact is in memory.
func (s *Service) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art != nil
}

func nFeatures(a *artifact.Artifact) int {
	if n := a.Estimator.NFeatures(); n > 0 {
		return n
	}
	return a.Metadata.NFeatures
}

func modelUsed(a *artifact.Artifact) string {
	return a.Metadata.Key()
}

// Predict predicts one row of engineered features. The row length must equal
// the artifact's feature count.
func (s *Service) Predict(row []float64) (Prediction, error) {
	a, err := s.load()
	if err != nil {
		return Prediction{}, err
	}
	if want := nFeatures(a); len(row) != want {
		return Prediction{}, errors.NewFeatureMismatchError(want, len(row))
	}
	out, err := a.Estimator.Predict(mat.NewDense(1, len(row), append([]float64(nil), row...)))
	if err != nil {
		return Prediction{}, errors.NewModelError("predict", a.Metadata.ModelName, err)
	}
	p := Prediction{Value: out.AtVec(0), ModelUsed: modelUsed(a)}
	s.logger.Debug("prediction",
		log.OperationKey, log.OperationPredict,
		log.ModelNameKey, p.ModelUsed,
		"prediction", p.Value,
	)
	return p, nil
}

// BatchPredict predicts every row of X in sequential chunks of batchSize
// rows (DefaultBatchSize when batchSize < 1). Each chunk's predictions are
// written at its offset of one preallocated result.
func (s *Service) BatchPredict(X mat.Matrix, batchSize int) ([]float64, error) {
	a, err := s.load()
	if err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if want := nFeatures(a); c != want {
		return nil, errors.NewFeatureMismatchError(want, c)
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()
	out := make([]float64, r)
	for lo := 0; lo < r; lo += batchSize {
		hi := min(lo+batchSize, r)
		pred, err := a.Estimator.Predict(chunk(X, lo, hi))
		if err != nil {
			return nil, errors.NewModelError("predict", a.Metadata.ModelName, errors.Wrapf(err, "rows %d-%d", lo, hi))
		}
		copy(out[lo:hi], pred.RawVector().Data)
		s.logger.Debug("batch predicted",
			log.OperationKey, log.OperationPredict,
			log.PredsBatchKey, hi,
			log.SamplesKey, r,
		)
	}
	s.logger.Info("batch prediction finished",
		log.OperationKey, log.OperationPredict,
		log.ModelNameKey, modelUsed(a),
		log.PredsKey, r,
		log.BatchSizeKey, batchSize,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, nil
}

func chunk(X mat.Matrix, lo, hi int) mat.Matrix {
	_, c := X.Dims()
	if d, ok := X.(*mat.Dense); ok {
		return d.Slice(lo, hi, 0, c)
	}
	out := mat.NewDense(hi-lo, c, nil)
	for i := lo; i < hi; i++ {
		for j := 0; j < c; j++ {
			out.Set(i-lo, j, X.At(i, j))
		}
	}
	return out
}

// PredictTable predicts raw rows. The artifact's feature pipeline runs first
// when it has one; otherwise the table must hold the feature columns.
func (s *Service) PredictTable(t *dataset.Table, batchSize int) ([]float64, error) {
	a, err := s.load()
	if err != nil {
		return nil, err
	}
	var X *mat.Dense
	if a.Preprocessor != nil {
		X, err = a.Preprocessor.TransformMatrix(t)
	} else {
		X, err = t.Matrix(a.Metadata.FeatureNames...)
	}
	if err != nil {
		return nil, err
	}
	return s.BatchPredict(X, batchSize)
}

// EstimatePropertyValue values one property given by field name. With a
// nil mapping and a stored feature pipeline, the raw fields the pipeline
// reads are taken from input. Otherwise mapping (or, when nil, the
// artifact's feature names) orders the numeric input values into the row
// the estimator expects.
func (s *Service) EstimatePropertyValue(input map[string]any, mapping []string) (Estimate, error) {
	a, err := s.load()
	if err != nil {
		return Estimate{}, err
	}
	var value float64
	if mapping == nil && a.Preprocessor != nil {
		t, err := rowTable(input, a.Preprocessor.Inputs)
		if err != nil {
			return Estimate{}, err
		}
		preds, err := s.PredictTable(t, 1)
		if err != nil {
			return Estimate{}, err
		}
		value = preds[0]
	} else {
		names := mapping
		if names == nil {
			names = a.Metadata.FeatureNames
		}
		row, err := rowVector(input, names)
		if err != nil {
			return Estimate{}, err
		}
		p, err := s.Predict(row)
		if err != nil {
			return Estimate{}, err
		}
		value = p.Value
	}
	if !finite(value) {
		return Estimate{}, errors.NewNumericError("EstimatePropertyValue", fmt.Sprintf("prediction is not finite: %v", value))
	}

	features := make(map[string]any, len(input))
	for k, v := range input {
		features[k] = v
	}
	est := Estimate{
		Value:      value,
		Formatted:  s.formatter.Format(value),
		Confidence: s.rules.Score(input),
		ModelUsed:  modelUsed(a),
		Features:   features,
	}
	s.logger.Info("property valued",
		log.OperationKey, log.OperationPredict,
		log.ModelNameKey, est.ModelUsed,
		log.ConfidenceKey, est.Confidence,
	)
	return est, nil
}

func rowVector(input map[string]any, names []string) ([]float64, error) {
	row := make([]float64, len(names))
	for i, name := range names {
		raw, ok := input[name]
		if !ok || isMissing(raw) {
			return nil, errors.NewValidationError(name, "missing input field", nil)
		}
		v, ok := toFloat(raw)
		if !ok {
			return nil, errors.NewValidationError(name, "must be numeric", raw)
		}
		row[i] = v
	}
	return row, nil
}

func rowTable(input map[string]any, names []string) (*dataset.Table, error) {
	cols := make([]*dataset.Column, 0, len(names))
	for _, name := range names {
		raw, ok := input[name]
		if !ok {
			return nil, errors.NewValidationError(name, "missing input field", nil)
		}
		switch v := raw.(type) {
		case string:
			cols = append(cols, dataset.NewText(name, []string{v}, []bool{v == ""}))
		case time.Time:
			cols = append(cols, dataset.NewTime(name, []time.Time{v}))
		case nil:
			cols = append(cols, dataset.NewNumeric(name, []float64{math.NaN()}))
		default:
			f, ok := toFloat(v)
			if !ok {
				return nil, errors.NewValidationError(name, fmt.Sprintf("unsupported value type %T", raw), raw)
			}
			cols = append(cols, dataset.NewNumeric(name, []float64{f}))
		}
	}
	return dataset.NewTable(cols...)
}

// Info describes the served artifact.
func (s *Service) Info() (Info, error) {
	a, err := s.load()
	if err != nil {
		return Info{}, err
	}
	imp, _ := model.Importances(a.Estimator)
	return Info{
		Metadata:      a.Metadata,
		Type:          fmt.Sprintf("%T", a.Estimator),
		Path:          s.store.Path(a.Metadata.ModelName, a.Metadata.Version),
		Importances:   imp,
		HasPreprocess: a.Preprocessor != nil,
	}, nil
}
