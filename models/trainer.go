package models

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// Train fits est in place and returns the same reference. A panic inside Fit
// is returned as an error.
func Train(est model.Regressor, X mat.Matrix, y mat.Vector) (model.Regressor, error) {
	return TrainWithLogger(nil, est, X, y)
}

// TrainWithLogger is Train reporting the fit duration to logger (nil uses the
// "trainer" component logger).
func TrainWithLogger(logger log.Logger, est model.Regressor, X mat.Matrix, y mat.Vector) (model.Regressor, error) {
	if est == nil {
		return nil, errors.NewValidationError("estimator", "must not be nil", nil)
	}
	logger = log.OrDefault(logger, "trainer")
	r, c := X.Dims()
	start := time.Now()
	err := errors.SafeExecute("models.Train", func() error { return est.Fit(X, y) })
	if err != nil {
		return est, err
	}
	logger.Debug("estimator fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, r,
		log.FeaturesKey, c,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return est, nil
}
