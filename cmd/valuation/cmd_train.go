package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/valuation/pipeline"
	"github.com/YuminosukeSato/valuation/pkg/config"
)

func newTrainCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the training pipeline and store the trained models",
		Long: "train loads the raw dataset named by the configuration, cleans and splits it,\n" +
			"engineers features, trains every listed candidate and saves a versioned\n" +
			"artifact per successful model. VALUATION_* environment variables override\n" +
			"the configuration file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if f := cmd.Flag("log-level"); f == nil || !f.Changed {
				setupLogging(cfg.Logging)
			}

			res, runErr := pipeline.Run(cmd.Context(), cfg)
			if res == nil {
				return runErr
			}
			printRun(cmd, res, cfg)
			return runErr
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the YAML configuration")
	return cmd
}

func printRun(cmd *cobra.Command, res *pipeline.RunResult, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", heading("Run"), res.RunID)
	fmt.Fprintf(out, "Data:    %s\n", res.DataPath)
	fmt.Fprintf(out, "Rows:    train %d, validation %d, test %d\n", res.TrainRows, res.ValRows, res.TestRows)
	fmt.Fprintf(out, "Features: %d\n\n", len(res.FeatureNames))
	fmt.Fprintln(out, res.Comparison.Render())

	for _, r := range res.Results {
		if r.Failure != nil {
			fmt.Fprintf(out, "%s %s failed at %s: %s\n", failure("✗"), r.Name, r.Failure.Stage, r.Failure.Reason)
		}
	}
	if res.Best == nil {
		fmt.Fprintln(out, warning("No model was trained successfully."))
		return
	}
	score, _ := res.Best.Score(cfg.Models.RankingMetric)
	fmt.Fprintf(out, "%s %s (%s %.4f)\n", success("Best model:"), res.Best.Name, cfg.Models.RankingMetric, score)
	if res.Validation != nil {
		fmt.Fprintf(out, "Validation: r2 %.4f, rmse %.4f\n", res.Validation.R2, res.Validation.RMSE)
	}

	if len(res.Artifacts) > 0 {
		fmt.Fprintln(out, heading("Artifacts"))
		for _, a := range res.Artifacts {
			fmt.Fprintf(out, "  %s\n", filepath.Join(cfg.Models.SavePath, a.Metadata.Key()+".gob"))
		}
	}
	if len(res.ReportFiles) > 0 {
		fmt.Fprintln(out, heading("Report"))
		for _, f := range res.ReportFiles {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
}
