// Package artifact persists trained estimators together with their fitted
// feature pipeline and metadata.
//
// An artifact named m with version v lives in two files of the store
// directory: m_v.gob holds the estimator and preprocessor object graph, and
// m_v.json holds the metadata for catalogs and external readers. Artifacts
// are immutable: saving never overwrites an existing version.
package artifact

import (
	"strings"
	"time"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/preprocessing"
)

// Metadata describes one stored artifact.
type Metadata struct {
	ID           string             `json:"id"`
	ModelName    string             `json:"model_name"`
	Kind         string             `json:"kind"`
	Version      string             `json:"version"`
	Params       model.Params       `json:"params"`
	FeatureNames []string           `json:"feature_names,omitempty"`
	NFeatures    int                `json:"n_features"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	CVMean       float64            `json:"cv_r2_mean"`
	CVStd        float64            `json:"cv_r2_std"`
	TrainedAt    time.Time          `json:"trained_at"`
	RunID        string             `json:"run_id,omitempty"`
}

// Key returns the file stem "{model}_{version}".
func (m Metadata) Key() string {
	return m.ModelName + "_" + m.Version
}

// Artifact is a fitted estimator with the pipeline that produced its
// inputs. Preprocessor is nil when the estimator consumes raw matrices.
type Artifact struct {
	Metadata     Metadata
	Estimator    model.Regressor
	Preprocessor *preprocessing.Engineer
}

// bundle is the gob payload. The estimator travels as an interface so its
// concrete type must be gob-registered by its package.
type bundle struct {
	Metadata     Metadata
	Estimator    model.Regressor
	Preprocessor *preprocessing.Engineer
}

func (a *Artifact) validate() error {
	if a == nil || a.Estimator == nil {
		return errors.NewValidationError("estimator", "artifact has no estimator", nil)
	}
	name := a.Metadata.ModelName
	if name == "" {
		return errors.NewValidationError("model_name", "must not be empty", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return errors.NewValidationError("model_name", "must not contain path elements", name)
	}
	return nil
}

// WithName returns a copy of a stored under another model name, with a new
// identity and no version. The estimator and preprocessor are shared.
func (a *Artifact) WithName(name string) *Artifact {
	cp := *a
	cp.Metadata.ModelName = name
	cp.Metadata.ID = ""
	cp.Metadata.Version = ""
	cp.Metadata.Params = a.Metadata.Params.Clone()
	return &cp
}
