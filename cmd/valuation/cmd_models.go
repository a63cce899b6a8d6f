package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/valuation/artifact"
	"github.com/YuminosukeSato/valuation/manager"
	"github.com/YuminosukeSato/valuation/models"
	"github.com/YuminosukeSato/valuation/pipeline"
	"github.com/YuminosukeSato/valuation/pkg/config"
	"github.com/YuminosukeSato/valuation/predict"
)

type storeFlags struct {
	dir     string
	catalog string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "dir", "models", "Artifact store directory")
	cmd.Flags().StringVar(&f.catalog, "catalog", "dir", "Artifact catalog: dir or badger")
}

func (f storeFlags) open() (*artifact.Store, error) {
	return pipeline.OpenStore(config.ModelsConfig{SavePath: f.dir, Catalog: f.catalog}, nil)
}

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect stored model artifacts and available model kinds",
	}
	cmd.AddCommand(newModelsListCmd(), newModelsInfoCmd(), newModelsKindsCmd())
	return cmd
}

func newModelsListCmd() *cobra.Command {
	var flags storeFlags
	var name string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored artifacts, ordered by name and version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(all) == 0 {
				fmt.Fprintf(out, "No artifacts in %s\n", flags.dir)
				return nil
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.SetStyle(manager.TableStyle())
			tw.AppendHeader(table.Row{"model_name", "version", "kind", "features", "r2", "rmse", "trained_at"})
			for _, md := range all {
				if name != "" && md.ModelName != name {
					continue
				}
				tw.AppendRow(table.Row{
					md.ModelName, md.Version, md.Kind, md.NFeatures,
					metric(md.Metrics, "r2"), metric(md.Metrics, "rmse"),
					md.TrainedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			tw.SetColumnConfigs([]table.ColumnConfig{
				{Number: 4, Align: text.AlignRight},
				{Number: 5, Align: text.AlignRight},
				{Number: 6, Align: text.AlignRight},
			})
			tw.Render()
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Only list versions of this model")
	return cmd
}

func metric(m map[string]float64, key string) string {
	v, ok := m[key]
	if !ok || math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func newModelsInfoCmd() *cobra.Command {
	var flags storeFlags
	var version string
	cmd := &cobra.Command{
		Use:   "info NAME",
		Short: "Print the metadata of a stored artifact as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			var opts []predict.Option
			if version != "" {
				opts = append(opts, predict.WithVersion(version))
			}
			svc, err := predict.NewService(store, args[0], opts...)
			if err != nil {
				return err
			}
			info, err := svc.Info()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&version, "version", "", "Artifact version; latest when empty")
	return cmd
}

func newModelsKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the model kinds this build can train",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range models.Available() {
				defaults, err := models.Default().Defaults(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s  %s\n", success(name), defaults.String())
			}
			return nil
		},
	}
}
