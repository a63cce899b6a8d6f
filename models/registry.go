package models

import (
	"sync"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/ensemble"
	"github.com/YuminosukeSato/valuation/linear"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/svm"
)

// DefaultSeed is the random_state every kind except linear regression gets.
const DefaultSeed = 42

// Spec builds one kind. Defaults is merged under caller overrides before
// SetParams.
type Spec struct {
	New      func() model.Regressor
	Defaults model.Params
}

// Registry holds the specs of the available kinds. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[Kind]Spec
}

// NewRegistry returns a registry holding only the base set.
func NewRegistry() *Registry {
	return &Registry{specs: baseSpecs()}
}

func baseSpecs() map[Kind]Spec {
	return map[Kind]Spec{
		LinearRegression: {
			New:      func() model.Regressor { return linear.NewLinearRegression() },
			Defaults: model.Params{},
		},
		Ridge: {
			New:      func() model.Regressor { return linear.NewRidge() },
			Defaults: model.Params{"alpha": 1.0, "random_state": DefaultSeed},
		},
		Lasso: {
			New: func() model.Regressor { return linear.NewLasso() },
			Defaults: model.Params{
				"alpha": 1.0, "max_iter": 1000, "tol": 1e-4, "random_state": DefaultSeed,
			},
		},
		ElasticNet: {
			New: func() model.Regressor { return linear.NewElasticNet() },
			Defaults: model.Params{
				"alpha": 1.0, "l1_ratio": 0.5, "max_iter": 1000, "tol": 1e-4, "random_state": DefaultSeed,
			},
		},
		RandomForest: {
			New: func() model.Regressor { return ensemble.NewRandomForest() },
			Defaults: model.Params{
				"n_estimators": 100, "max_depth": nil, "min_samples_split": 2,
				"min_samples_leaf": 1, "max_features": 1.0, "bootstrap": true,
				"random_state": DefaultSeed,
			},
		},
		GradientBoosting: {
			New: func() model.Regressor { return ensemble.NewGradientBoosting() },
			Defaults: model.Params{
				"n_estimators": 100, "learning_rate": 0.1, "max_depth": 3,
				"subsample": 1.0, "random_state": DefaultSeed,
			},
		},
		SVR: {
			New: func() model.Regressor { return svm.NewSVR() },
			Defaults: model.Params{
				"kernel": svm.KernelRBF, "C": 1.0, "epsilon": 0.1, "gamma": svm.GammaScale,
				"random_state": DefaultSeed,
			},
		},
	}
}

// Register adds an extension kind. Base kinds cannot be replaced.
func (r *Registry) Register(kind Kind, spec Spec) error {
	if kind.IsBase() || kind.String() == "unknown" {
		return errors.NewValidationError("kind", "only extension kinds can be registered", kind.String())
	}
	if spec.New == nil {
		return errors.NewValidationError("spec", "constructor is required", kind.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[kind] = spec
	return nil
}

// IsAvailable reports whether name is a known kind with a registered spec.
func (r *Registry) IsAvailable(name string) bool {
	kind, err := ParseKind(name)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[kind]
	return ok
}

// Available lists the available names in declaration order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, k := range Kinds() {
		if _, ok := r.specs[k]; ok {
			out = append(out, k.String())
		}
	}
	return out
}

func (r *Registry) spec(name string) (Spec, Kind, error) {
	kind, err := ParseKind(name)
	if err == nil {
		r.mu.RLock()
		spec, ok := r.specs[kind]
		r.mu.RUnlock()
		if ok {
			return spec, kind, nil
		}
	}
	return Spec{}, 0, errors.NewConfigurationError("models.model_list", name, r.Available()...)
}

// Defaults returns a copy of the default parameter record of name.
func (r *Registry) Defaults(name string) (model.Params, error) {
	spec, _, err := r.spec(name)
	if err != nil {
		return nil, err
	}
	return spec.Defaults.Clone(), nil
}

// New builds an unfitted estimator for name with overrides merged over the
// kind's defaults.
func (r *Registry) New(name string, overrides model.Params) (model.Regressor, Kind, error) {
	spec, kind, err := r.spec(name)
	if err != nil {
		return nil, 0, err
	}
	est := spec.New()
	if err := est.SetParams(spec.Defaults.Merge(overrides)); err != nil {
		return nil, kind, errors.Wrapf(err, "configure %s", name)
	}
	return est, kind, nil
}

// Factory returns a constructor of fresh estimators for name, validated once.
func (r *Registry) Factory(name string, overrides model.Params) (model.Factory, error) {
	if _, _, err := r.New(name, overrides); err != nil {
		return nil, err
	}
	fixed := overrides.Clone()
	return func() (model.Regressor, error) {
		est, _, err := r.New(name, fixed)
		return est, err
	}, nil
}

// ParamFactory returns a constructor taking per-candidate overrides on top of
// base, suitable for hyperparameter search.
func (r *Registry) ParamFactory(name string, base model.Params) func(model.Params) (model.Regressor, error) {
	fixed := base.Clone()
	return func(p model.Params) (model.Regressor, error) {
		est, _, err := r.New(name, fixed.Merge(p))
		return est, err
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry extensions register into.
func Default() *Registry { return defaultRegistry }

// RegisterExtension registers an extension kind in the default registry.
func RegisterExtension(kind Kind, spec Spec) error {
	return defaultRegistry.Register(kind, spec)
}

// IsAvailable reports whether name can be built by the default registry.
func IsAvailable(name string) bool { return defaultRegistry.IsAvailable(name) }

// Available lists the names the default registry can build.
func Available() []string { return defaultRegistry.Available() }

// New builds an estimator from the default registry.
func New(name string, overrides model.Params) (model.Regressor, Kind, error) {
	return defaultRegistry.New(name, overrides)
}
