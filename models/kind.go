// Package models maps model names to constructible regression estimators.
//
// The set of kinds is closed. The first seven kinds form the base set and are
// always available; the boosting kinds are extensions that become available
// only when a package registers them, typically through a blank import:
//
//	import _ "github.com/YuminosukeSato/valuation/sklearn/lightgbm"
package models

import (
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Kind identifies a supported regression algorithm.
type Kind int

const (
	LinearRegression Kind = iota
	Ridge
	Lasso
	ElasticNet
	RandomForest
	GradientBoosting
	SVR
	LightGBM
	XGBoost
)

var kindNames = [...]string{
	LinearRegression: "linear_regression",
	Ridge:            "ridge",
	Lasso:            "lasso",
	ElasticNet:       "elastic_net",
	RandomForest:     "random_forest",
	GradientBoosting: "gradient_boosting",
	SVR:              "svr",
	LightGBM:         "lightgbm",
	XGBoost:          "xgboost",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// IsBase reports whether k belongs to the always-available base set.
func (k Kind) IsBase() bool {
	return k >= LinearRegression && k <= SVR
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind resolves a model name. Unknown names return a ConfigurationError
// listing every known name.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, errors.NewConfigurationError("models.model_list", name, kindNames[:]...)
}
