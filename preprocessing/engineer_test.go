package preprocessing

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// houses returns n listings with price = 2·area + 5·rooms.
func houses(n int) (*dataset.Table, []float64) {
	area := make([]float64, n)
	rooms := make([]float64, n)
	city := make([]string, n)
	listed := make([]time.Time, n)
	y := make([]float64, n)
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		area[i] = 40 + 3*float64(i)
		rooms[i] = float64(1 + i%4)
		city[i] = []string{"a", "b", "c"}[i%3]
		listed[i] = start.AddDate(0, 0, 10*i)
		y[i] = 2*area[i] + 5*rooms[i]
	}
	return dataset.MustTable(
		dataset.NewNumeric("area", area),
		dataset.NewNumeric("rooms", rooms),
		dataset.NewText("city", city, nil),
		dataset.NewTime("listed", listed),
	), y
}

func trainTest(n, nTrain int) (train, test dataset.XY) {
	tbl, y := houses(n)
	all := dataset.XY{X: tbl, Y: y}
	var tr, te []int
	for i := 0; i < n; i++ {
		if i < nTrain {
			tr = append(tr, i)
		} else {
			te = append(te, i)
		}
	}
	return all.Take(tr), all.Take(te)
}

func baseFeatures() config.FeatureConfig {
	return config.FeatureConfig{
		Scaling:      config.ScalingConfig{Enabled: true, Method: "standard"},
		Encoding:     config.EncodingConfig{Enabled: true, Method: "onehot"},
		TimeFeatures: config.TimeConfig{Enabled: true},
	}
}

func TestEngineerStepOrder(t *testing.T) {
	e, err := NewEngineer(config.Default().FeatureEngineering)
	require.NoError(t, err)
	assert.Equal(t, []string{"time_features", "encoding", "drop_non_numeric", "scaling"}, e.StepNames())

	cfg := baseFeatures()
	cfg.Transforms = config.TransformsConfig{LogColumns: []string{"area"}, PowerColumns: []string{"rooms"}}
	cfg.Polynomial = config.PolyConfig{Enabled: true, Degree: 2}
	cfg.FeatureSelection = config.SelectionConfig{Enabled: true, Method: "variance"}
	cfg.PCA = config.PCAConfig{Enabled: true, NComponents: 3}
	e, err = NewEngineer(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"time_features", "log", "power", "encoding", "drop_non_numeric",
		"scaling", "polynomial", "selection:variance", "pca",
	}, e.StepNames())
}

func TestEngineerFitsOnTrainOnly(t *testing.T) {
	train, test := trainTest(30, 20)
	e, err := NewEngineer(baseFeatures())
	require.NoError(t, err)

	fitted, err := e.FitTransform(train.X, train.Y)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"area", "rooms",
		"listed_year", "listed_month", "listed_day", "listed_weekday", "listed_quarter", "listed_season",
		"city_b", "city_c",
	}, e.FeatureNames())
	assert.Equal(t, []string{"area", "rooms", "city", "listed"}, e.Inputs)

	again, err := e.Transform(train.X)
	require.NoError(t, err)
	assert.True(t, fitted.Equal(again), "transforming the training table reproduces the fit output")

	scaler := e.Steps[3].Transformer.(*StandardScaler)
	mean, sq := 0.0, 0.0
	for i := 0; i < 20; i++ {
		mean += 40 + 3*float64(i)
	}
	mean /= 20
	for i := 0; i < 20; i++ {
		d := 40 + 3*float64(i) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / 20)
	assert.InDelta(t, mean, scaler.Center[0], 1e-12)

	out, err := e.Transform(test.X)
	require.NoError(t, err)
	area := column(t, out, "area")
	for i, v := range area {
		assert.InDelta(t, (40+3*float64(20+i)-mean)/std, v, 1e-9)
	}
	assert.InDelta(t, mean, scaler.Center[0], 1e-12, "transform leaves the fitted state alone")

	X, err := e.TransformMatrix(test.X)
	require.NoError(t, err)
	r, c := X.Dims()
	assert.Equal(t, 10, r)
	assert.Equal(t, 10, c)
}

func TestEngineerRejectsMissingColumns(t *testing.T) {
	train, test := trainTest(20, 15)
	e, err := NewEngineer(baseFeatures())
	require.NoError(t, err)
	require.NoError(t, e.Fit(train.X, train.Y))

	_, err = e.Transform(test.X.Drop("rooms"))
	assert.True(t, errors.IsValidation(err))

	_, err = (&Engineer{}).Transform(test.X)
	assert.ErrorIs(t, err, errors.ErrNotFitted)

	empty := train.X.Take(nil)
	assert.ErrorIs(t, e.Fit(empty, nil), errors.ErrEmptyData)
	var de *errors.DimensionError
	assert.True(t, errors.As(e.Fit(train.X, train.Y[:3]), &de))
}

func TestEngineerSelection(t *testing.T) {
	tests := []struct {
		name      string
		selection config.SelectionConfig
	}{
		{"correlation", config.SelectionConfig{Enabled: true, Method: "correlation", K: 1}},
		{"rfe", config.SelectionConfig{Enabled: true, Method: "rfe", K: 1, Estimator: "linear_regression"}},
		{"sequential", config.SelectionConfig{Enabled: true, Method: "sequential", K: 1, Estimator: "linear_regression", Direction: "forward", CV: 3}},
	}
	train, test := trainTest(30, 24)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.FeatureConfig{
				Scaling:          config.ScalingConfig{Enabled: true, Method: "standard"},
				FeatureSelection: tt.selection,
			}
			e, err := NewEngineer(cfg)
			require.NoError(t, err)
			require.NoError(t, e.Fit(train.X, train.Y))
			assert.Equal(t, []string{"area"}, e.FeatureNames())

			out, err := e.Transform(test.X)
			require.NoError(t, err)
			assert.Equal(t, []string{"area"}, out.Names())
		})
	}

	_, err := NewEngineer(config.FeatureConfig{FeatureSelection: config.SelectionConfig{Enabled: true, Method: "boruta"}})
	assert.True(t, errors.IsConfiguration(err))
	_, err = NewEngineer(config.FeatureConfig{FeatureSelection: config.SelectionConfig{Enabled: true, Method: "rfe", Estimator: "catboost"}})
	assert.True(t, errors.IsConfiguration(err))
}

func TestEngineerPCA(t *testing.T) {
	train, test := trainTest(30, 20)
	cfg := baseFeatures()
	cfg.PCA = config.PCAConfig{Enabled: true, NComponents: 2}
	e, err := NewEngineer(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Fit(train.X, train.Y))
	assert.Equal(t, []string{"pca_component_1", "pca_component_2"}, e.FeatureNames())

	out, err := e.Transform(test.X)
	require.NoError(t, err)
	assert.Equal(t, 10, out.NumRows())
}

func TestEngineerGobRoundTrip(t *testing.T) {
	train, test := trainTest(30, 20)
	cfg := baseFeatures()
	cfg.Encoding.Method = "target"
	cfg.Transforms = config.TransformsConfig{LogColumns: []string{"area"}}
	cfg.FeatureSelection = config.SelectionConfig{Enabled: true, Method: "variance"}
	e, err := NewEngineer(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Fit(train.X, train.Y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(e, &buf))
	var got Engineer
	require.NoError(t, model.LoadModelFromReader(&got, &buf))

	want, err := e.Transform(test.X)
	require.NoError(t, err)
	out, err := got.Transform(test.X)
	require.NoError(t, err)
	assert.True(t, want.Equal(out))
	assert.Equal(t, e.FeatureNames(), got.FeatureNames())
}

func TestEngineerLogs(t *testing.T) {
	train, _ := trainTest(12, 12)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	e, err := NewEngineer(baseFeatures(), WithEngineerLogger(logger))
	require.NoError(t, err)
	require.NoError(t, e.Fit(train.X, train.Y))

	assert.True(t, logger.ContainsMessage("feature step fitted"))
	assert.True(t, logger.ContainsMessage("feature engineering fitted"))
	assert.True(t, logger.ContainsField(log.OperationKey, log.OperationEngineer))
}
