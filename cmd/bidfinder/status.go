package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/logger"
	"github.com/oakbuilders/bid-finder/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <opportunity-id> <status>",
	Short: "Set the review status of an opportunity",
	Long: "Valid statuses: new, reviewing, bid_submitted, won, lost, passed. " +
		"Later ingestion never changes a status set here.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid opportunity id %q", args[0])
		}
		st := models.Status(strings.ToLower(args[1]))
		if !st.Valid() {
			return fmt.Errorf("unknown status %q", args[1])
		}

		ctx := cmd.Context()
		e, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer e.close()

		o, err := e.store.SetStatus(ctx, id, st)
		if err != nil {
			return err
		}
		e.log.Info("status updated", zap.String(logger.FieldOppID, o.ID.String()), zap.String("status", string(o.Status)))
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", o.ID, o.Status, o.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
