package predict

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/metrics"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Prediction export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatText = "txt"
)

// SavePredictions writes preds to path. An empty format is taken from the
// file extension. CSV has a single "predictions" column, JSON holds
// {"predictions": [...]} and text writes one value per line with four
// decimals.
func SavePredictions(path string, preds []float64, format string) (err error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case FormatCSV, FormatJSON, FormatText:
	default:
		return errors.NewConfigurationError("output format", format, FormatCSV, FormatJSON, FormatText)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}

	if format == FormatJSON {
		data, err := json.MarshalIndent(struct {
			Predictions []float64 `json:"predictions"`
		}{preds}, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode predictions")
		}
		return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	if format == FormatText {
		w := bufio.NewWriter(f)
		for _, p := range preds {
			fmt.Fprintf(w, "%.4f\n", p)
		}
		return errors.Wrapf(w.Flush(), "write %s", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"predictions"}); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, p := range preds {
		if err := w.Write([]string{strconv.FormatFloat(p, 'g', -1, 64)}); err != nil {
			return errors.Wrap(err, "write prediction")
		}
	}
	w.Flush()
	return w.Error()
}

// EvaluatePredictions compares predictions with known values.
func EvaluatePredictions(yTrue, yPred []float64) (metrics.Report, error) {
	if len(yTrue) != len(yPred) {
		return metrics.Report{}, errors.NewDimensionError("EvaluatePredictions", len(yTrue), len(yPred), 0)
	}
	if len(yTrue) == 0 {
		return metrics.Report{}, errors.ErrEmptyData
	}
	return metrics.Evaluate(mat.NewVecDense(len(yTrue), yTrue), mat.NewVecDense(len(yPred), yPred))
}
