package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/models"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderRuns(w io.Writer, runs []db.Run) {
	// Sources that never started leave zero runs behind.
	runs = slices.DeleteFunc(slices.Clone(runs), func(r db.Run) bool { return r.Source == "" })
	if len(runs) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Source", "Status", "Seen", "Normalized", "Skipped", "Inserted", "Merged", "Unchanged", "Duration", "Started At"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.Source, r.Status, r.Seen, r.Normalized, r.Skipped, r.Inserted, r.Merged, r.Unchanged,
			r.Duration().Round(time.Millisecond), r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()

	for _, r := range runs {
		if len(r.SkipReasons) > 0 {
			reasons := make([]string, 0, len(r.SkipReasons))
			for _, k := range slices.Sorted(maps.Keys(r.SkipReasons)) {
				reasons = append(reasons, fmt.Sprintf("%s=%d", k, r.SkipReasons[k]))
			}
			fmt.Fprintf(w, "%s skipped: %s\n", r.Source, strings.Join(reasons, ", "))
		}
		if r.Error != "" {
			fmt.Fprintf(w, "%s failed: %s\n", r.Source, r.Error)
		}
	}
}

func formatMoney(low, high *float64) string {
	switch {
	case low == nil && high == nil:
		return "-"
	case low != nil && high != nil && *low == *high:
		return fmt.Sprintf("$%.0f", *low)
	case low != nil && high != nil:
		return fmt.Sprintf("$%.0f-$%.0f", *low, *high)
	case low != nil:
		return fmt.Sprintf("$%.0f+", *low)
	default:
		return fmt.Sprintf("<= $%.0f", *high)
	}
}

func renderOpportunities(w io.Writer, opps []models.Opportunity) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Score", "Title", "Jurisdiction", "Category", "Value", "Deadline", "Status", "ID"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, WidthMax: 48},
	})
	for _, o := range opps {
		deadline := "-"
		if o.ResponseDeadline != nil {
			deadline = o.ResponseDeadline.Format("2006-01-02")
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("%.1f", o.Score), o.Title, o.Jurisdiction, o.Category,
			formatMoney(o.EstimatedValueLow, o.EstimatedValueHigh), deadline, o.Status, o.ID,
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d opportunities", len(opps))})
	t.Render()
}

func renderStats(w io.Writer, st db.Stats) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"total", st.Total})
	t.AppendRow(table.Row{"expired", st.Expired})
	t.AppendRow(table.Row{"high relevance", st.HighRelevance})
	t.AppendRow(table.Row{"due this week", st.DueThisWeek})
	for _, group := range []struct {
		name   string
		counts map[string]int
	}{
		{"status", st.ByStatus},
		{"category", st.ByCategory},
		{"jurisdiction", st.ByJurisdiction},
		{"source", st.BySource},
	} {
		t.AppendSeparator()
		for _, k := range slices.Sorted(maps.Keys(group.counts)) {
			t.AppendRow(table.Row{group.name + ": " + k, group.counts[k]})
		}
	}
	t.Render()
}
