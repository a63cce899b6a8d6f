package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	var b strings.Builder
	b.WriteString("Area,City,Building_Year,Listed_At,Price\n")
	base := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 80; i++ {
		area := 45 + float64((i*29)%150)
		year := 1995 + i%25
		fmt.Fprintf(&b, "%g,%s,%d,%s,%g\n",
			area, []string{"east", "west"}[i%2], year,
			base.AddDate(0, 0, 23*i).Format(time.DateOnly),
			1.5*area+20*float64(i%2)+float64(year-1995))
	}
	data := filepath.Join(dir, "listings.csv")
	require.NoError(t, os.WriteFile(data, []byte(b.String()), 0o644))

	cfg := fmt.Sprintf(`data:
  raw_data_path: %s
  target_column: price
  date_columns: [listed_at]
feature_engineering:
  time_features:
    enabled: true
    time_columns: [listed_at]
models:
  model_list: [ridge, lasso]
  save_path: %s
hyperparameter_tuning:
  cv: 3
visualization:
  output_path: %s
logging:
  level: error
`, data, filepath.Join(dir, "models"), filepath.Join(dir, "results"))
	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return dir, configPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTrainPredictList(t *testing.T) {
	dir, configPath := writeFixture(t)
	models := filepath.Join(dir, "models")

	out, err := execute(t, "train", "--config", configPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Best model:")
	assert.Contains(t, out, filepath.Join(models, "ridge_v1.0.0.gob"))
	assert.Contains(t, out, "train 56, validation 8, test 16")

	out, err = execute(t, "models", "list", "--dir", models)
	require.NoError(t, err)
	for _, name := range []string{"ridge", "lasso", "v1.0.0", "model_name", "trained_at"} {
		assert.Contains(t, out, name)
	}
	out, err = execute(t, "models", "list", "--dir", models, "--name", "lasso")
	require.NoError(t, err)
	assert.NotContains(t, out, "ridge")

	preds := filepath.Join(dir, "out", "preds.json")
	out, err = execute(t, "predict", "--model", "ridge", "--dir", models,
		"--input", filepath.Join(dir, "listings.csv"), "--config", configPath, "--output", preds)
	require.NoError(t, err, out)
	assert.Contains(t, out, "80 predictions with ridge_v1.0.0")
	assert.Contains(t, out, "Evaluation")
	assert.Contains(t, out, "miss rate")
	assert.NotContains(t, out, "drift detected")

	data, err := os.ReadFile(preds)
	require.NoError(t, err)
	var decoded struct {
		Predictions []float64 `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Predictions, 80)

	out, err = execute(t, "models", "info", "ridge", "--dir", models, "--version", "v1")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "ridge", info["model_name"])
	assert.Equal(t, "v1.0.0", info["version"])
	assert.Equal(t, true, info["has_preprocessor"])
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "train", "--config", filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "load config")

	_, err = execute(t, "predict", "--input", "x.csv")
	assert.ErrorContains(t, err, "required flag")

	input := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(input, []byte("a,b\n1,2\n"), 0o644))
	_, err = execute(t, "predict", "--model", "ridge", "--dir", dir, "--input", input)
	assert.ErrorContains(t, err, "ridge")

	out, err := execute(t, "models", "list", "--dir", filepath.Join(dir, "empty"))
	require.NoError(t, err)
	assert.Contains(t, out, "No artifacts")

	_, err = execute(t, "models", "info")
	assert.Error(t, err)
}

func TestModelsKinds(t *testing.T) {
	out, err := execute(t, "models", "kinds")
	require.NoError(t, err)
	for _, name := range []string{"linear_regression", "random_forest", "svr", "lightgbm"} {
		assert.Contains(t, out, name)
	}
}
