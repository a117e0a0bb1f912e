package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source...]",
	Short: "Fetch sources, normalize their listings and merge them into the store",
	Long: "Runs every enabled source from the registry, or only the named ones. " +
		"Each source is processed in order while sources run concurrently.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		reg, err := ingest.LoadRegistry(viper.GetString("sources"))
		if err != nil {
			return err
		}
		configs, err := reg.Enabled(args...)
		if err != nil {
			return err
		}
		sources, err := ingest.Sources(configs, e.log)
		if err != nil {
			return err
		}

		normalizer := ingest.NewNormalizer(e.profile, e.store.Engine().Matcher())
		pipeline := ingest.NewPipeline(e.store, normalizer, nil, e.log).
			WithConcurrency(viper.GetInt("concurrency"))

		runs, runErr := pipeline.RunSources(ctx, sources)
		renderRuns(cmd.OutOrStdout(), runs)

		if viper.GetBool("expire") {
			n, err := e.store.MarkExpired(ctx)
			if err != nil {
				return err
			}
			e.log.Info("expired opportunities flagged", zap.Int("count", n))
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Bool("expire", true, "flag opportunities whose deadline passed after ingesting")

	viper.BindPFlag("expire", ingestCmd.Flags().Lookup("expire"))
}
