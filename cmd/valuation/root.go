package main

import (
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	success = color.New(color.FgGreen).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "valuation",
		Short: "Real-estate price model training and prediction",
		Long: "valuation cleans listing data, trains and ranks candidate regressors,\n" +
			"stores versioned model artifacts and serves predictions from them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if logLevel != "" {
				setupLogging(config.LoggingConfig{Level: logLevel, Format: "console"})
			}
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(newTrainCmd())
	root.AddCommand(newPredictCmd())
	root.AddCommand(newModelsCmd())
	return root
}

// setupLogging installs the process logger. Logs go to stderr so that
// command output stays clean.
func setupLogging(cfg config.LoggingConfig) {
	lc := log.DefaultConfig()
	if cfg.Level != "" {
		lc.Level = strings.ToLower(cfg.Level)
	}
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	lc.Caller = cfg.Caller
	lc.Output = os.Stderr
	log.Init(lc)
}
