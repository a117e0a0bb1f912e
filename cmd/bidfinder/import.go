package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Ingest listings assembled by hand, e.g. from a plan room or a phone call",
	Long: "Reads a JSON array of objects keyed by raw field name (title, deadline, " +
		"estimated_value, ...) and runs them through normalization and merging. " +
		"When --source names a registry entry its defaults and authority apply.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("source")

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		records, err := ingest.ReadRecords(f, name)
		if err != nil {
			return err
		}

		cfg := ingest.SourceConfig{Name: name}
		reg, err := ingest.LoadRegistry(viper.GetString("sources"))
		if err != nil {
			return err
		}
		if known, err := reg.Enabled(name); err == nil {
			cfg = known[0]
		}

		ctx := cmd.Context()
		e, err := setup(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		normalizer := ingest.NewNormalizer(e.profile, e.store.Engine().Matcher())
		pipeline := ingest.NewPipeline(e.store, normalizer, nil, e.log)
		run, err := pipeline.RunSource(ctx, ingest.Source{Config: cfg, Adapter: records})
		renderRuns(cmd.OutOrStdout(), []db.Run{run})
		return err
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().String("source", "manual", "source name recorded on imported listings")
}
