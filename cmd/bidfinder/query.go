package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oakbuilders/bid-finder/internal/models"
)

const dateLayout = "2006-01-02"

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "List stored opportunities, best score first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := queryFilter(cmd.Flags())
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if output != "table" && output != "json" {
			return fmt.Errorf("unknown output %q (table, json)", output)
		}

		ctx := cmd.Context()
		e, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer e.close()

		if output == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			for o, err := range e.store.Query(ctx, f) {
				if err != nil {
					return err
				}
				if err := enc.Encode(o); err != nil {
					return err
				}
			}
			return nil
		}

		opps, err := e.store.Collect(ctx, f)
		if err != nil {
			return err
		}
		renderOpportunities(cmd.OutOrStdout(), opps)
		return nil
	},
}

func queryFilter(flags *pflag.FlagSet) (models.Filter, error) {
	var f models.Filter

	if flags.Changed("min-score") {
		score, _ := flags.GetFloat64("min-score")
		if score < 0 || score > 100 {
			return f, fmt.Errorf("--min-score must be in [0, 100]")
		}
		f.MinScore = &score
	}

	statuses, _ := flags.GetStringSlice("status")
	for _, raw := range statuses {
		st := models.Status(strings.ToLower(strings.TrimSpace(raw)))
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", raw)
		}
		f.Statuses = append(f.Statuses, st)
	}

	f.Jurisdictions, _ = flags.GetStringSlice("jurisdiction")
	f.Categories, _ = flags.GetStringSlice("category")
	f.IncludeExpired, _ = flags.GetBool("include-expired")
	f.Limit, _ = flags.GetInt("limit")

	for name, dst := range map[string]**time.Time{"from": &f.PostedFrom, "to": &f.PostedTo} {
		v, _ := flags.GetString(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, fmt.Errorf("--%s must be YYYY-MM-DD", name)
		}
		*dst = &t
	}
	return f, nil
}

func init() {
	rootCmd.AddCommand(queryCmd)
	addQueryFlags(queryCmd.Flags())
}

func addQueryFlags(flags *pflag.FlagSet) {
	flags.Float64("min-score", 0, "only opportunities scoring at least this much")
	flags.StringSlice("status", nil, "review statuses to include")
	flags.StringSlice("jurisdiction", nil, "jurisdictions to include")
	flags.StringSlice("category", nil, "trade categories to include")
	flags.String("from", "", "posted on or after (YYYY-MM-DD)")
	flags.String("to", "", "posted on or before (YYYY-MM-DD)")
	flags.Bool("include-expired", false, "include opportunities whose deadline passed")
	flags.Int("limit", 50, "maximum rows, 0 for all")
	flags.StringP("output", "o", "table", "output format: table or json (one object per line)")
}
