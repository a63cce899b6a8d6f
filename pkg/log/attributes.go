// Standard attribute keys for pipeline logging. Keys follow a hierarchical
// naming convention ("model.name", "data.samples") so log analysis can filter
// on them consistently.

package log

// Model and operation context.
const (
	// ModelNameKey identifies the candidate model, e.g. "random_forest".
	ModelNameKey = "model.name"

	// ModelVersionKey is the semantic version tag of a trained artifact.
	ModelVersionKey = "model.version"

	// ArtifactIDKey is the unique identifier of a persisted artifact.
	ArtifactIDKey = "artifact.id"

	// RunIDKey identifies one pipeline run.
	RunIDKey = "run.id"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the lifecycle phase.
	PhaseKey = "ml.phase"

	// StateKey records a candidate state transition target.
	StateKey = "ml.state"
)

// Data shape.
const (
	SamplesKey     = "data.samples"
	FeaturesKey    = "data.features"
	ColumnKey      = "data.column"
	RowsRemovedKey = "data.rows_removed"
	BatchSizeKey   = "data.batch_size"
	PathKey        = "data.path"
	FormatKey      = "data.format"
)

// Performance and evaluation.
const (
	DurationMsKey = "perf.duration_ms"
	R2ScoreKey    = "metrics.r2_score"
	RMSEKey       = "metrics.rmse"
	ScoreKey      = "metrics.score"
	CVMeanKey     = "metrics.cv_mean"
	CVStdKey      = "metrics.cv_std"
	IterationKey  = "training.iteration"
	FoldKey       = "training.fold"
)

// Predictions.
const (
	PredsKey      = "preds.count"
	PredsBatchKey = "preds.batch"
	ConfidenceKey = "preds.confidence"
)

// Errors.
const (
	ErrorKey      = "error"
	ErrorCodeKey  = "error.code"
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Configuration.
const (
	HyperParamsKey   = "model.hyperparams"
	RandomSeedKey    = "config.random_seed"
	ConfigVersionKey = "config.version"
	MethodKey        = "config.method"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationScore     = "score"
	OperationTune      = "tune"
	OperationLoad      = "load"
	OperationSave      = "save"
	OperationClean     = "clean"
	OperationSplit     = "split"
	OperationEngineer  = "engineer"
	OperationSelect    = "select"
	OperationEvaluate  = "evaluate"
	OperationCV        = "cross_validate"

	PhaseIngest        = "ingest"
	PhasePreprocessing = "preprocessing"
	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorCandidateFailed   = "CANDIDATE_FAILED"
	ErrorIllegalTransition = "ILLEGAL_TRANSITION"
)
