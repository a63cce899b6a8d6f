// Package report turns a trained model's test-set results into the files an
// external charting tool consumes. Nothing is rendered here.
//
// Files written by Write under dir:
//
//	{model}_predictions.csv         actual, predicted, residual per row
//	{model}_feature_importance.csv  feature, importance (descending)
//	{model}_model_dump.json         tree dump, when the model can produce one
//	evaluation.json                 metrics, axis bounds and candidate scores
package report

import (
	"bufio"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/plotter"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/metrics"
	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// EvaluationFile is the name of the JSON summary.
const EvaluationFile = "evaluation.json"

// Importance is one feature's weight in a fitted model.
type Importance struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"importance"`
}

// Bounds is the data range of a scatter.
type Bounds struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Summary holds everything Write needs for one model.
type Summary struct {
	Model   string
	Metrics metrics.Report

	// Pairs are (actual, predicted) points; Residuals are
	// (predicted, actual - predicted).
	Pairs     plotter.XYs
	Residuals plotter.XYs

	// Importances are sorted by descending value; ImportanceValues holds the
	// same values in the same order for bar charts.
	Importances      []Importance
	ImportanceValues plotter.Values

	// Candidates maps every evaluated model to its metrics.
	Candidates map[string]map[string]float64

	dump []byte
}

type dumper interface {
	DumpModel(featureNames []string) ([]byte, error)
}

// Build evaluates yPred against yTrue and collects the scatter points and
// feature importances of est. Estimators without importances leave the
// importance fields empty.
func Build(name string, est model.Regressor, featureNames []string, yTrue, yPred []float64) (*Summary, error) {
	if len(yTrue) != len(yPred) {
		return nil, errors.NewDimensionError("report.Build", len(yTrue), len(yPred), 0)
	}
	if len(yTrue) == 0 {
		return nil, errors.ErrEmptyData
	}
	rep, err := metrics.Evaluate(mat.NewVecDense(len(yTrue), yTrue), mat.NewVecDense(len(yPred), yPred))
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Model:     name,
		Metrics:   rep,
		Pairs:     make(plotter.XYs, len(yTrue)),
		Residuals: make(plotter.XYs, len(yTrue)),
	}
	for i := range yTrue {
		s.Pairs[i] = plotter.XY{X: yTrue[i], Y: yPred[i]}
		s.Residuals[i] = plotter.XY{X: yPred[i], Y: yTrue[i] - yPred[i]}
	}

	if est == nil {
		return s, nil
	}
	if imp, ok := model.Importances(est); ok {
		if len(imp) != len(featureNames) {
			return nil, errors.NewDimensionError("report.Build", len(featureNames), len(imp), 1)
		}
		s.Importances = make([]Importance, len(imp))
		for j, v := range imp {
			s.Importances[j] = Importance{Feature: featureNames[j], Value: v}
		}
		sort.SliceStable(s.Importances, func(a, b int) bool {
			return s.Importances[a].Value > s.Importances[b].Value
		})
		s.ImportanceValues = make(plotter.Values, len(imp))
		for j, im := range s.Importances {
			s.ImportanceValues[j] = im.Value
		}
	}
	if d, ok := est.(dumper); ok {
		if s.dump, err = d.DumpModel(featureNames); err != nil {
			return nil, errors.Wrapf(err, "dump %s", name)
		}
	}
	return s, nil
}

// Top returns the n most important features, or all of them when n < 1.
func (s *Summary) Top(n int) []Importance {
	if n < 1 || n > len(s.Importances) {
		n = len(s.Importances)
	}
	return s.Importances[:n]
}

// HasDump reports whether the model produced a tree dump.
func (s *Summary) HasDump() bool { return len(s.dump) > 0 }

type evaluation struct {
	Model       string                        `json:"model"`
	Samples     int                           `json:"n_samples"`
	Metrics     metrics.Report                `json:"metrics"`
	Prediction  *Bounds                       `json:"prediction_bounds,omitempty"`
	Residual    *Bounds                       `json:"residual_bounds,omitempty"`
	TopFeatures []Importance                  `json:"top_features,omitempty"`
	Candidates  map[string]map[string]float64 `json:"candidates,omitempty"`
}

func bounds(xys plotter.XYs) *Bounds {
	if len(xys) == 0 {
		return nil
	}
	xmin, xmax, ymin, ymax := plotter.XYRange(xys)
	return &Bounds{XMin: xmin, XMax: xmax, YMin: ymin, YMax: ymax}
}

// TopFeatures is how many features evaluation.json lists.
const TopFeatures = 20

// Write writes the summary files into dir, creating it. plots selects the
// prediction and importance tables; evaluation.json is always written.
func Write(dir string, s *Summary, plots config.PlotsConfig) ([]string, error) {
	if s == nil {
		return nil, errors.NewValidationError("summary", "must not be nil", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	var written []string

	if plots.PredictionScatter {
		path := filepath.Join(dir, s.Model+"_predictions.csv")
		rows := make([][]string, len(s.Pairs))
		for i, p := range s.Pairs {
			rows[i] = []string{formatFloat(p.X), formatFloat(p.Y), formatFloat(p.X - p.Y)}
		}
		if err := writeCSV(path, []string{"actual", "predicted", "residual"}, rows); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if plots.FeatureImportance && len(s.Importances) > 0 {
		path := filepath.Join(dir, s.Model+"_feature_importance.csv")
		rows := make([][]string, len(s.Importances))
		for i, im := range s.Importances {
			rows[i] = []string{im.Feature, formatFloat(im.Value)}
		}
		if err := writeCSV(path, []string{"feature", "importance"}, rows); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if s.HasDump() {
		path := filepath.Join(dir, s.Model+"_model_dump.json")
		if err := os.WriteFile(path, s.dump, 0o644); err != nil {
			return written, errors.Wrapf(err, "write %s", path)
		}
		written = append(written, path)
	}

	ev := evaluation{
		Model:       s.Model,
		Samples:     len(s.Pairs),
		Metrics:     s.Metrics,
		Prediction:  bounds(s.Pairs),
		Residual:    bounds(s.Residuals),
		TopFeatures: s.Top(TopFeatures),
		Candidates:  finite(s.Candidates),
	}
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return written, errors.Wrap(err, "encode evaluation")
	}
	path := filepath.Join(dir, EvaluationFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return written, errors.Wrapf(err, "write %s", path)
	}
	return append(written, path), nil
}

// finite drops NaN and infinite scores, which JSON cannot hold.
func finite(c map[string]map[string]float64) map[string]map[string]float64 {
	if len(c) == 0 {
		return nil
	}
	out := make(map[string]map[string]float64, len(c))
	for name, m := range c {
		kept := make(map[string]float64, len(m))
		for k, v := range m {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				kept[k] = v
			}
		}
		out[name] = kept
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(path string, header []string, rows [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)
	if err := w.Write(header); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	if err := w.WriteAll(rows); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(bw.Flush(), "flush %s", path)
}
