package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/db"
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute scores and categories with the current profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		batch, _ := cmd.Flags().GetInt("batch-size")

		ctx := cmd.Context()
		e, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer e.close()

		res, err := e.store.Rescore(ctx, batch)
		if err != nil {
			return err
		}
		e.log.Info("rescore finished", zap.Int("scanned", res.Scanned), zap.Int("updated", res.Updated))
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, updated %d\n", res.Scanned, res.Updated)
		return nil
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Flag new or reviewing opportunities whose deadline has passed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer e.close()

		n, err := e.store.MarkExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d\n", n)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counts by status, category, jurisdiction and source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer e.close()

		st, err := e.store.Stats(ctx)
		if err != nil {
			return err
		}
		renderStats(cmd.OutOrStdout(), st)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the most recent ingestion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		e, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer e.close()

		runs, err := e.store.Runs(ctx, limit)
		if err != nil {
			return err
		}
		renderRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		dbURL := viper.GetString("database-url")
		if dbURL == memoryDatabase {
			return fmt.Errorf("the in-memory store has no migrations")
		}

		ctx := cmd.Context()
		pool, err := db.Connect(ctx, dbURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := db.ApplyMigrations(ctx, pool, log)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rescoreCmd, expireCmd, statsCmd, runsCmd, migrateCmd)

	rescoreCmd.Flags().Int("batch-size", 500, "rows rescored per batch")
	runsCmd.Flags().Int("limit", 20, "number of runs to show")
}
