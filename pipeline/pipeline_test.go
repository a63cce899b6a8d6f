package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/valuation/artifact"
	"github.com/YuminosukeSato/valuation/manager"
	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
	"github.com/YuminosukeSato/valuation/predict"
)

// writeListings writes 100 listings plus one duplicate row. Two area cells
// are blank.
func writeListings(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Area,City,Building_Year,Listed_At,Price\n")
	base := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	var first string
	for i := 0; i < 100; i++ {
		area := 40 + float64((i*37)%160)
		city := []string{"north", "south"}[i%2]
		year := 1990 + i%30
		listed := base.AddDate(0, 0, 37*i).Format(time.DateOnly)
		price := 2*area + 30*float64(i%2) + float64(year-1990) + float64(i%7)/10
		areaCell := fmt.Sprint(area)
		if i == 11 || i == 42 {
			areaCell = ""
		}
		line := fmt.Sprintf("%s,%s,%d,%s,%g\n", areaCell, city, year, listed, price)
		if i == 0 {
			first = line
		}
		b.WriteString(line)
	}
	b.WriteString(first)
	path := filepath.Join(dir, "listings.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Data.RawDataPath = filepath.Join(root, "raw")
	require.NoError(t, os.MkdirAll(cfg.Data.RawDataPath, 0o755))
	writeListings(t, cfg.Data.RawDataPath)
	cfg.Data.ProcessedDataPath = filepath.Join(root, "processed")
	cfg.Data.DateColumns = []string{"listed_at"}
	cfg.FeatureEngineering.TimeFeatures.TimeColumns = []string{"listed_at"}
	cfg.Models.ModelList = []string{"ridge", "lasso", "random_forest"}
	cfg.Models.Params = map[string]map[string]any{"random_forest": {"n_estimators": 10}}
	cfg.Models.SavePath = filepath.Join(root, "models")
	cfg.Visualization.OutputPath = filepath.Join(root, "results")
	cfg.HyperparameterTuning.CV = 3
	return cfg
}

func run(t *testing.T, cfg *config.Config, opts ...Option) *RunResult {
	t.Helper()
	opts = append([]Option{
		WithMetrics(manager.NewMetrics(prometheus.NewRegistry())),
		WithNJobs(2),
	}, opts...)
	res, err := Run(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return res
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := log.NewTestLogger(log.LevelInfo)
	res := run(t, cfg, WithLogger(logger), WithRunID("run-1"))

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, filepath.Join(cfg.Data.RawDataPath, "listings.csv"), res.DataPath)
	require.NotNil(t, res.Clean)
	assert.Equal(t, 1, res.Clean.DuplicatesRemoved)
	assert.Equal(t, 2, res.Clean.CellsImputed)
	assert.Equal(t, 100, res.Clean.RowsOut)
	assert.Equal(t, 70, res.TrainRows)
	assert.Equal(t, 10, res.ValRows)
	assert.Equal(t, 20, res.TestRows)
	assert.Contains(t, res.FeatureNames, "area")
	assert.Contains(t, res.FeatureNames, "listed_at_year")
	assert.NotContains(t, res.FeatureNames, "price")

	require.Len(t, res.Results, 3)
	require.NotNil(t, res.Best)
	assert.True(t, res.Best.OK())
	assert.Greater(t, res.Best.Success.Metrics.R2, 0.9)
	require.NotNil(t, res.Validation)
	assert.Greater(t, res.Validation.R2, 0.8)
	assert.ElementsMatch(t, []string{"ridge", "lasso", "random_forest"}, res.Comparison.Models())

	stages := make([]string, len(res.History))
	for i, ev := range res.History {
		stages[i] = ev.Stage
	}
	assert.Equal(t, []string{
		StageLoad, StageClean, StageTransform, StageSplit, StageEngineer,
		StageTrain, StageSave, StageReport, StageSnapshot,
	}, stages)

	require.Len(t, res.Artifacts, 4, "three candidates plus the best copy")
	for _, a := range res.Artifacts {
		assert.Equal(t, "v1.0.0", a.Metadata.Version)
		assert.Equal(t, "run-1", a.Metadata.RunID)
		assert.FileExists(t, filepath.Join(cfg.Models.SavePath, a.Metadata.Key()+".gob"))
	}
	for _, name := range []string{"X_train.csv", "y_train.csv", "X_val.csv", "y_val.csv", "X_test.csv", "y_test.csv"} {
		assert.FileExists(t, filepath.Join(cfg.Data.ProcessedDataPath, name))
	}
	for _, f := range res.ReportFiles {
		assert.FileExists(t, f)
	}
	assert.Contains(t, res.ReportFiles, filepath.Join(cfg.Visualization.OutputPath, "evaluation.json"))
	assert.Contains(t, res.ReportFiles, filepath.Join(cfg.Visualization.OutputPath, res.Best.Name+"_predictions.csv"))

	data, err := os.ReadFile(res.SnapshotPath)
	require.NoError(t, err)
	var snap struct {
		RunID   string     `yaml:"run_id"`
		History []RunEvent `yaml:"history"`
		Config  struct {
			Models struct {
				ModelList []string `yaml:"model_list"`
			} `yaml:"models"`
		} `yaml:"config"`
	}
	require.NoError(t, yaml.Unmarshal(data, &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, cfg.Models.ModelList, snap.Config.Models.ModelList)
	assert.Len(t, snap.History, len(res.History)-1)

	assert.True(t, logger.ContainsMessage("pipeline finished"))
	assert.True(t, logger.ContainsField(log.RunIDKey, "run-1"))
}

func TestRunServesBestModel(t *testing.T) {
	cfg := testConfig(t)
	res := run(t, cfg)

	store, err := artifact.NewStore(cfg.Models.SavePath)
	require.NoError(t, err)
	svc, err := predict.NewService(store, res.Best.Name+manager.BestSuffix)
	require.NoError(t, err)

	est, err := svc.EstimatePropertyValue(map[string]any{
		"area":          100.0,
		"city":          "south",
		"building_year": 2000,
		"listed_at":     time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
	}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2*100+30+10, est.Value, 40)
	assert.Equal(t, 0.9, est.Confidence, "property_type is missing")
}

func TestRunUnparsableDates(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.Data.RawDataPath, "listings.csv")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	base := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	content := string(raw)
	for _, i := range []int{5, 60} {
		content = strings.Replace(content, base.AddDate(0, 0, 37*i).Format(time.DateOnly), "not-a-date", 1)
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	res := run(t, cfg)
	assert.Equal(t, 100, res.Clean.RowsOut)
	assert.Contains(t, res.FeatureNames, "listed_at_year")
	require.NotNil(t, res.Best)
	assert.Greater(t, res.Best.Success.Metrics.R2, 0.9)
}

func TestRunNeverOverwrites(t *testing.T) {
	cfg := testConfig(t)
	cfg.Visualization.OutputPath = ""
	first := run(t, cfg)
	second := run(t, cfg)

	assert.Nil(t, second.ReportFiles)
	assert.NotEqual(t, first.RunID, second.RunID)
	for _, a := range second.Artifacts {
		assert.Equal(t, "v1.0.1", a.Metadata.Version)
	}

	store, err := artifact.NewStore(cfg.Models.SavePath)
	require.NoError(t, err)
	versions, err := store.Versions("ridge")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.0.0", "v1.0.1"}, versions)
}

func TestRunBadgerCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models.Catalog = "badger"
	cfg.Models.Version = "v2.0.0"
	cfg.Models.SaveBest = false
	res := run(t, cfg)
	require.Len(t, res.Artifacts, 3)

	cat, err := artifact.OpenBadgerCatalog(filepath.Join(cfg.Models.SavePath, CatalogDir))
	require.NoError(t, err)
	defer cat.Close()
	all, err := cat.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, md := range all {
		assert.Equal(t, "v2.0.0", md.Version)
	}
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), nil)
	assert.True(t, errors.IsValidation(err))

	cfg := testConfig(t)
	cfg.Data.RawDataPath = filepath.Join(t.TempDir(), "missing.csv")
	_, err = Run(context.Background(), cfg)
	assert.True(t, errors.IsNotFound(err))

	cfg = testConfig(t)
	cfg.Models.ModelList = []string{"ridge", "catboost"}
	_, err = Run(context.Background(), cfg)
	assert.True(t, errors.IsConfiguration(err))

	cfg = testConfig(t)
	cfg.DataSplitting.TestSize = 0.6
	cfg.DataSplitting.ValSize = 0.5
	_, err = Run(context.Background(), cfg)
	assert.True(t, errors.IsConfiguration(err))

	cfg = testConfig(t)
	cfg.Data.TargetColumn = "rent"
	_, err = Run(context.Background(), cfg)
	assert.True(t, errors.IsValidation(err))

	cfg = testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanOptions(t *testing.T) {
	cfg := config.Default().Data
	cfg.OutlierColumns = []string{"area"}
	opts := CleanOptions(cfg)
	assert.True(t, opts.DropDuplicates)
	assert.EqualValues(t, "fill", opts.MissingPolicy)
	assert.EqualValues(t, "iqr", opts.OutlierMethod)
	assert.Equal(t, 1.5, opts.IQRMultiplier)
	assert.Equal(t, []string{"area"}, opts.Columns)
	assert.Equal(t, "missing", opts.ConstantFill)
}
