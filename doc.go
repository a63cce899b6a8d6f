// Package valuation trains and serves real-estate price models.
//
// A training run reads raw listings, cleans and splits them, engineers
// features, trains a set of candidate regressors, ranks them on the held
// out test set and stores every successful model as a versioned artifact
// next to the feature pipeline that produced its inputs. Stored artifacts
// are then served one row, one batch or one table at a time.
//
// # Quick Start
//
// Train from a YAML configuration and value a property with the best model:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := pipeline.Run(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store, _ := artifact.NewStore(cfg.Models.SavePath)
//	svc, _ := predict.NewService(store, res.Best.Name+manager.BestSuffix)
//	est, _ := svc.EstimatePropertyValue(map[string]any{
//	    "area": 120.0, "city": "beijing", "building_year": 2015,
//	}, nil)
//	fmt.Println(est.Formatted)
//
// The valuation command wraps the same flow: valuation train, valuation
// predict and valuation models.
//
// # Packages
//
//   - dataset: tables, loading, cleaning, column transforms and splitting
//   - preprocessing: scalers, encoders, time features and the feature Engineer
//   - linear, tree, ensemble, svm, sklearn/lightgbm: regressors
//   - models: the model kind registry and single-model training
//   - tuning: cross validation and hyperparameter search
//   - metrics: regression metrics
//   - manager: multi-model training, ranking and persistence
//   - artifact: the versioned artifact store and its catalogs
//   - predict: the prediction service, export and drift monitoring
//   - report: evaluation summaries and report files
//   - pipeline: the end-to-end training run
//   - pkg/config, pkg/log, pkg/errors: configuration, logging and errors
//
// Estimators follow the scikit-learn shape: construct, Fit(X, y), Predict(X),
// with Params and SetParams using the scikit-learn parameter names.
package valuation
