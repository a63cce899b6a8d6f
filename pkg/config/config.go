// Package config loads the pipeline configuration.
//
// Values are layered with koanf: struct defaults first, then an optional YAML
// file, then VALUATION_* environment variables. Nested keys are separated by a
// double underscore in the environment:
//
//	VALUATION_DATA_SPLITTING__TEST_SIZE=0.25
//	VALUATION_MODELS__MODEL_LIST=ridge,lasso
package config

// Config is the root configuration document.
type Config struct {
	Data                 DataConfig          `koanf:"data" yaml:"data"`
	DataSplitting        SplitConfig         `koanf:"data_splitting" yaml:"data_splitting"`
	FeatureEngineering   FeatureConfig       `koanf:"feature_engineering" yaml:"feature_engineering"`
	Models               ModelsConfig        `koanf:"models" yaml:"models"`
	HyperparameterTuning TuningConfig        `koanf:"hyperparameter_tuning" yaml:"hyperparameter_tuning"`
	Visualization        VisualizationConfig `koanf:"visualization" yaml:"visualization"`
	Logging              LoggingConfig       `koanf:"logging" yaml:"logging"`
}

// DataConfig controls loading, cleaning and transformation of the raw table.
type DataConfig struct {
	RawDataPath       string `koanf:"raw_data_path" yaml:"raw_data_path" validate:"required"`
	FileExtension     string `koanf:"file_extension" yaml:"file_extension" validate:"oneof=csv xlsx json"`
	Encoding          string `koanf:"encoding" yaml:"encoding"`
	TargetColumn      string `koanf:"target_column" yaml:"target_column" validate:"required"`
	IndexColumn       string `koanf:"index_column" yaml:"index_column"`
	ProcessedDataPath string `koanf:"processed_data_path" yaml:"processed_data_path"`

	NormalizeColumnNames bool     `koanf:"normalize_column_names" yaml:"normalize_column_names"`
	DateColumns          []string `koanf:"date_columns" yaml:"date_columns"`
	TextColumns          []string `koanf:"text_columns" yaml:"text_columns"`

	DropDuplicates        bool     `koanf:"drop_duplicates" yaml:"drop_duplicates"`
	HandleMissing         string   `koanf:"handle_missing" yaml:"handle_missing" validate:"oneof=drop fill"`
	NumericImputation     string   `koanf:"numeric_imputation" yaml:"numeric_imputation" validate:"oneof=mean median mode"`
	CategoricalImputation string   `koanf:"categorical_imputation" yaml:"categorical_imputation" validate:"oneof=mode constant"`
	FillValue             string   `koanf:"fill_value" yaml:"fill_value"`
	OutlierMethod         string   `koanf:"outlier_method" yaml:"outlier_method" validate:"oneof=iqr zscore none"`
	IQRMultiplier         float64  `koanf:"iqr_multiplier" yaml:"iqr_multiplier" validate:"gt=0"`
	ZScoreThreshold       float64  `koanf:"zscore_threshold" yaml:"zscore_threshold" validate:"gt=0"`
	OutlierColumns        []string `koanf:"outlier_columns" yaml:"outlier_columns"`

	// RangeRules maps a column to its valid [min, max] interval.
	RangeRules map[string][]float64 `koanf:"range_rules" yaml:"range_rules" validate:"dive,len=2"`
}

// SplitConfig holds the partition fractions. ValSize is a fraction of the
// whole dataset.
type SplitConfig struct {
	TestSize    float64 `koanf:"test_size" yaml:"test_size" validate:"gt=0,lt=1"`
	ValSize     float64 `koanf:"val_size" yaml:"val_size" validate:"gte=0,lt=1"`
	RandomState uint64  `koanf:"random_state" yaml:"random_state"`
}

// FeatureConfig enables and parameterizes each feature transform.
type FeatureConfig struct {
	Scaling          ScalingConfig    `koanf:"scaling" yaml:"scaling"`
	Encoding         EncodingConfig   `koanf:"encoding" yaml:"encoding"`
	TimeFeatures     TimeConfig       `koanf:"time_features" yaml:"time_features"`
	Transforms       TransformsConfig `koanf:"transforms" yaml:"transforms"`
	FeatureSelection SelectionConfig  `koanf:"feature_selection" yaml:"feature_selection"`
	PCA              PCAConfig        `koanf:"pca" yaml:"pca"`
	Polynomial       PolyConfig       `koanf:"polynomial" yaml:"polynomial"`
}

type ScalingConfig struct {
	Enabled bool     `koanf:"enabled" yaml:"enabled"`
	Method  string   `koanf:"method" yaml:"method" validate:"oneof=standard minmax robust"`
	Columns []string `koanf:"columns" yaml:"columns"`
}

type EncodingConfig struct {
	Enabled            bool     `koanf:"enabled" yaml:"enabled"`
	Method             string   `koanf:"method" yaml:"method" validate:"oneof=onehot label target"`
	CategoricalColumns []string `koanf:"categorical_columns" yaml:"categorical_columns"`
	Smoothing          float64  `koanf:"smoothing" yaml:"smoothing" validate:"gte=0"`
}

type TimeConfig struct {
	Enabled     bool     `koanf:"enabled" yaml:"enabled"`
	TimeColumns []string `koanf:"time_columns" yaml:"time_columns"`
}

type TransformsConfig struct {
	LogColumns   []string `koanf:"log_columns" yaml:"log_columns"`
	PowerColumns []string `koanf:"power_columns" yaml:"power_columns"`
	PowerMethod  string   `koanf:"power_method" yaml:"power_method" validate:"oneof=yeo-johnson box-cox"`
}

type SelectionConfig struct {
	Enabled   bool    `koanf:"enabled" yaml:"enabled"`
	Method    string  `koanf:"method" yaml:"method" validate:"oneof=variance correlation mutual_info rfe model sequential"`
	K         int     `koanf:"k" yaml:"k" validate:"gte=0"`
	Threshold float64 `koanf:"threshold" yaml:"threshold" validate:"gte=0"`
	Estimator string  `koanf:"estimator" yaml:"estimator"`
	Direction string  `koanf:"direction" yaml:"direction" validate:"oneof=forward backward"`
	CV        int     `koanf:"cv" yaml:"cv" validate:"gte=2"`
}

// PCAConfig.NComponents is a component count when ≥ 1 and a retained
// variance fraction when in (0, 1).
type PCAConfig struct {
	Enabled     bool    `koanf:"enabled" yaml:"enabled"`
	NComponents float64 `koanf:"n_components" yaml:"n_components" validate:"gt=0"`
}

type PolyConfig struct {
	Enabled         bool `koanf:"enabled" yaml:"enabled"`
	Degree          int  `koanf:"degree" yaml:"degree" validate:"gte=1,lte=5"`
	InteractionOnly bool `koanf:"interaction_only" yaml:"interaction_only"`
}

// ModelsConfig lists the candidates and where artifacts go.
type ModelsConfig struct {
	ModelList     []string                  `koanf:"model_list" yaml:"model_list" validate:"min=1,dive,required"`
	Params        map[string]map[string]any `koanf:"params" yaml:"params"`
	SavePath      string                    `koanf:"save_path" yaml:"save_path" validate:"required"`
	Version       string                    `koanf:"version" yaml:"version"`
	Catalog       string                    `koanf:"catalog" yaml:"catalog" validate:"oneof=dir badger"`
	RankingMetric string                    `koanf:"ranking_metric" yaml:"ranking_metric" validate:"oneof=r2 explained_variance"`
	SaveBest      bool                      `koanf:"save_best" yaml:"save_best"`
}

// TuningConfig configures hyperparameter search. ParamGrids maps a model name
// to parameter → candidate values.
type TuningConfig struct {
	Enabled     bool                        `koanf:"enabled" yaml:"enabled"`
	Method      string                      `koanf:"method" yaml:"method" validate:"oneof=grid_search random_search"`
	ParamGrids  map[string]map[string][]any `koanf:"param_grids" yaml:"param_grids"`
	CV          int                         `koanf:"cv" yaml:"cv" validate:"gte=2"`
	Scoring     string                      `koanf:"scoring" yaml:"scoring" validate:"oneof=neg_mean_squared_error neg_root_mean_squared_error neg_mean_absolute_error r2 explained_variance"`
	NIter       int                         `koanf:"n_iter" yaml:"n_iter" validate:"gte=1"`
	RandomState uint64                      `koanf:"random_state" yaml:"random_state"`
	NJobs       int                         `koanf:"n_jobs" yaml:"n_jobs" validate:"gte=0"`
}

// VisualizationConfig only selects which summary files are written for the
// external charting collaborator.
type VisualizationConfig struct {
	OutputPath string      `koanf:"output_path" yaml:"output_path"`
	Plots      PlotsConfig `koanf:"plots" yaml:"plots"`
}

type PlotsConfig struct {
	FeatureImportance bool `koanf:"feature_importance" yaml:"feature_importance"`
	PredictionScatter bool `koanf:"prediction_scatter" yaml:"prediction_scatter"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" yaml:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller" yaml:"caller"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			RawDataPath:           "data/raw",
			FileExtension:         "csv",
			Encoding:              "utf-8",
			TargetColumn:          "price",
			ProcessedDataPath:     "data/processed",
			NormalizeColumnNames:  true,
			DropDuplicates:        true,
			HandleMissing:         "fill",
			NumericImputation:     "mean",
			CategoricalImputation: "mode",
			FillValue:             "missing",
			OutlierMethod:         "iqr",
			IQRMultiplier:         1.5,
			ZScoreThreshold:       3.0,
		},
		DataSplitting: SplitConfig{
			TestSize:    0.2,
			ValSize:     0.1,
			RandomState: 42,
		},
		FeatureEngineering: FeatureConfig{
			Scaling:          ScalingConfig{Enabled: true, Method: "standard"},
			Encoding:         EncodingConfig{Enabled: true, Method: "onehot", Smoothing: 10},
			TimeFeatures:     TimeConfig{Enabled: true},
			Transforms:       TransformsConfig{PowerMethod: "yeo-johnson"},
			FeatureSelection: SelectionConfig{Method: "variance", K: 10, Direction: "forward", CV: 5},
			PCA:              PCAConfig{NComponents: 0.95},
			Polynomial:       PolyConfig{Degree: 2},
		},
		Models: ModelsConfig{
			ModelList: []string{
				"linear_regression", "ridge", "lasso", "elastic_net",
				"random_forest", "gradient_boosting", "svr",
			},
			SavePath:      "models",
			Catalog:       "dir",
			RankingMetric: "r2",
			SaveBest:      true,
		},
		HyperparameterTuning: TuningConfig{
			Method:      "grid_search",
			CV:          5,
			Scoring:     "neg_mean_squared_error",
			NIter:       10,
			RandomState: 42,
		},
		Visualization: VisualizationConfig{
			OutputPath: "results",
			Plots:      PlotsConfig{FeatureImportance: true, PredictionScatter: true},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}
