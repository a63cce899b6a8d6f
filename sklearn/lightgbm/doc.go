// Package lightgbm provides a pure Go histogram gradient-boosting regressor in
// the style of LightGBM and registers it as the "lightgbm" model kind.
//
// Importing the package for its side effect makes the kind available:
//
//	import _ "github.com/YuminosukeSato/valuation/sklearn/lightgbm"
//
//	est, _, err := models.New("lightgbm", model.Params{"num_leaves": 15})
//
// # Training
//
// Features are quantized once into at most MaxBin bins per column. Each
// iteration computes first and second order gradients of the squared loss,
// then grows a tree leaf-wise: the leaf with the largest split gain is split
// next until NumLeaves leaves exist or no split gains anything. Split gain is
//
//	½ · (G_L²/(H_L+λ) + G_R²/(H_R+λ) − G²/(H+λ))
//
// and leaf outputs are −G/(H+λ) shrunk by the learning rate.
//
// # Model Dump
//
// DumpModel renders the fitted trees as JSON with the same field names as
// LightGBM's dump_model output, so downstream tooling that reads those dumps
// can inspect a model trained here.
package lightgbm
