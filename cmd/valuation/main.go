// valuation trains, stores and serves real-estate price models.
//
// Usage:
//
//	valuation train --config configs/config.yaml
//	valuation predict --model NAME [--version V] --input listings.csv --output preds.csv
//	valuation models list [--dir models]
//	valuation models info NAME [--version V]
package main

import (
	"fmt"
	"os"

	// Registers the lightgbm model kind.
	_ "github.com/YuminosukeSato/valuation/sklearn/lightgbm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failure(err.Error()))
		os.Exit(1)
	}
}
