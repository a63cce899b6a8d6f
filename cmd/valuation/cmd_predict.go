package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pipeline"
	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/predict"
)

type predictFlags struct {
	model     string
	version   string
	dir       string
	catalog   string
	input     string
	output    string
	format    string
	config    string
	target    string
	batchSize int
	tolerance float64
}

func newPredictCmd() *cobra.Command {
	var flags predictFlags
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict prices for a table of listings with a stored model",
		Long: "predict loads a stored artifact, runs its feature pipeline over the input\n" +
			"table and writes one prediction per row. When the input also holds the\n" +
			"target column the predictions are evaluated against it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPredict(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.model, "model", "m", "", "Artifact name (required)")
	f.StringVar(&flags.version, "version", "", "Artifact version; latest when empty")
	f.StringVar(&flags.dir, "dir", "models", "Artifact store directory")
	f.StringVar(&flags.catalog, "catalog", "dir", "Artifact catalog: dir or badger")
	f.StringVarP(&flags.input, "input", "i", "", "Input table: .csv, .xlsx or .json (required)")
	f.StringVarP(&flags.output, "output", "o", "predictions.csv", "Output file: .csv, .json or .txt")
	f.StringVar(&flags.format, "format", "", "Output format; taken from the output extension when empty")
	f.StringVar(&flags.config, "config", "", "Training configuration, to apply its column normalization and date parsing")
	f.StringVar(&flags.target, "target", "", "Target column to evaluate against; defaults to the configured target")
	f.IntVar(&flags.batchSize, "batch-size", predict.DefaultBatchSize, "Rows per prediction batch")
	f.Float64Var(&flags.tolerance, "tolerance", 0.2, "Relative error above which an evaluated prediction counts as a miss")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runPredict(cmd *cobra.Command, flags predictFlags) error {
	format, err := dataset.ParseFormat(filepath.Ext(flags.input))
	if err != nil {
		return err
	}
	tbl, err := dataset.Load(flags.input, format)
	if err != nil {
		return fmt.Errorf("load input: %w", err)
	}

	target := flags.target
	if flags.config != "" {
		cfg, err := config.Load(flags.config)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if tbl, err = dataset.Transform(tbl, dataset.TransformOptions{
			Lowercase:   cfg.Data.NormalizeColumnNames,
			Strip:       cfg.Data.NormalizeColumnNames,
			DateColumns: cfg.Data.DateColumns,
		}); err != nil {
			return err
		}
		if target == "" {
			target = cfg.Data.TargetColumn
		}
	}

	var yTrue []float64
	if target != "" {
		if c, ok := tbl.Column(target); ok && c.Type == dataset.Numeric && c.NullCount() == 0 {
			yTrue = append([]float64(nil), c.Num...)
			tbl = tbl.Drop(target)
		}
	}

	store, err := pipeline.OpenStore(config.ModelsConfig{SavePath: flags.dir, Catalog: flags.catalog}, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []predict.Option{}
	if flags.version != "" {
		opts = append(opts, predict.WithVersion(flags.version))
	}
	svc, err := predict.NewService(store, flags.model, opts...)
	if err != nil {
		return err
	}
	preds, err := svc.PredictTable(tbl, flags.batchSize)
	if err != nil {
		return err
	}
	if err := predict.SavePredictions(flags.output, preds, flags.format); err != nil {
		return err
	}

	info, err := svc.Info()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d predictions with %s written to %s\n",
		success("✓"), len(preds), info.Metadata.Key(), flags.output)

	if yTrue != nil {
		rep, err := predict.EvaluatePredictions(yTrue, preds)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, heading("Evaluation"))
		fmt.Fprintf(out, "  r2    %.4f\n  rmse  %.4f\n  mae   %.4f\n", rep.R2, rep.RMSE, rep.MAE)

		drift, err := predict.MonitorDrift(yTrue, preds, predict.WithTolerance(flags.tolerance))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  miss rate %.2f (tolerance %.0f%%)\n", drift.MissRate, flags.tolerance*100)
		if drift.Drifts > 0 {
			fmt.Fprintln(out, warning(fmt.Sprintf("  drift detected at row %d; consider retraining", drift.FirstDrift)))
		}
	}
	return nil
}
