package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "VALUATION_"

// sliceConfigPaths are split on commas when they arrive as a single string
// from the environment.
var sliceConfigPaths = []string{
	"data.date_columns",
	"data.text_columns",
	"data.outlier_columns",
	"feature_engineering.scaling.columns",
	"feature_engineering.encoding.categorical_columns",
	"feature_engineering.time_features.time_columns",
	"feature_engineering.transforms.log_columns",
	"feature_engineering.transforms.power_columns",
	"models.model_list",
}

// Load layers defaults, the YAML file at path (skipped when path is empty) and
// VALUATION_* environment variables, then validates the result.
// A missing file is a NotFoundError.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewNotFoundError("config file", path)
			}
			return nil, errors.Wrapf(err, "stat %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.NewFormatError(path, "yaml", err.Error())
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransformFunc maps VALUATION_DATA_SPLITTING__TEST_SIZE to
// data_splitting.test_size.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return errors.Wrapf(err, "set %s", path)
		}
	}
	return nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks field rules and cross-field constraints. Failures are
// ConfigurationErrors naming the offending key.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			key := strings.TrimPrefix(fe.Namespace(), "Config.")
			return errors.NewConfigurationError(key, fmt.Sprint(fe.Value()), ruleHint(fe)...)
		}
		return errors.Wrap(err, "validate configuration")
	}

	s := c.DataSplitting
	if s.TestSize+s.ValSize >= 1 {
		return errors.NewConfigurationError("data_splitting.val_size",
			fmt.Sprint(s.ValSize), "test_size + val_size < 1")
	}
	if c.Data.Encoding != "" {
		if _, err := htmlindex.Get(c.Data.Encoding); err != nil {
			return errors.NewConfigurationError("data.encoding", c.Data.Encoding,
				"utf-8", "gbk", "gb18030", "big5", "shift_jis", "euc-kr", "windows-1252")
		}
	}
	return nil
}

// ValidateModels checks that every listed candidate, every tuning grid and
// every per-model parameter block names an available model.
func (c *Config) ValidateModels(isAvailable func(string) bool, supported []string) error {
	for _, name := range c.Models.ModelList {
		if !isAvailable(name) {
			return errors.NewConfigurationError("models.model_list", name, supported...)
		}
	}
	for name := range c.Models.Params {
		if !isAvailable(name) {
			return errors.NewConfigurationError("models.params", name, supported...)
		}
	}
	for name := range c.HyperparameterTuning.ParamGrids {
		if !isAvailable(name) {
			return errors.NewConfigurationError("hyperparameter_tuning.param_grids", name, supported...)
		}
	}
	return nil
}

func ruleHint(fe validator.FieldError) []string {
	if fe.Tag() == "oneof" {
		return strings.Fields(fe.Param())
	}
	if fe.Param() != "" {
		return []string{fe.Tag() + "=" + fe.Param()}
	}
	return []string{fe.Tag()}
}
