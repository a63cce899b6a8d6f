package lightgbm

import (
	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/models"
)

func init() {
	defaults := DefaultParams().Params()
	defaults["random_state"] = models.DefaultSeed
	err := models.RegisterExtension(models.LightGBM, models.Spec{
		New:      func() model.Regressor { return NewRegressor() },
		Defaults: defaults,
	})
	if err != nil {
		panic(err)
	}
}
