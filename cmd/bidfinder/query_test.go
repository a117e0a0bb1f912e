package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/models"
)

func parseQueryFlags(t *testing.T, args ...string) (models.Filter, error) {
	t.Helper()
	fs := pflag.NewFlagSet("query", pflag.ContinueOnError)
	addQueryFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return queryFilter(fs)
}

func TestQueryFilter(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		f, err := parseQueryFlags(t)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.MinScore != nil || f.PostedFrom != nil || f.IncludeExpired || f.Limit != 50 {
			t.Errorf("unexpected defaults: %+v", f)
		}
	})

	t.Run("all flags", func(t *testing.T) {
		f, err := parseQueryFlags(t,
			"--min-score", "60",
			"--status", "new,Reviewing",
			"--jurisdiction", "Arlington County",
			"--category", "painting,roofing",
			"--from", "2026-03-01",
			"--to", "2026-03-31",
			"--include-expired",
			"--limit", "0",
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.MinScore == nil || *f.MinScore != 60 {
			t.Errorf("min score = %v", f.MinScore)
		}
		if len(f.Statuses) != 2 || f.Statuses[1] != models.StatusReviewing {
			t.Errorf("statuses = %v", f.Statuses)
		}
		if len(f.Categories) != 2 || f.Jurisdictions[0] != "Arlington County" {
			t.Errorf("categories = %v, jurisdictions = %v", f.Categories, f.Jurisdictions)
		}
		want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		if f.PostedFrom == nil || !f.PostedFrom.Equal(want) || f.PostedTo == nil {
			t.Errorf("posted range = %v - %v", f.PostedFrom, f.PostedTo)
		}
		if !f.IncludeExpired || f.Limit != 0 {
			t.Errorf("include expired = %v, limit = %d", f.IncludeExpired, f.Limit)
		}
	})

	errCases := []struct {
		name string
		args []string
		want string
	}{
		{"score above range", []string{"--min-score", "101"}, "min-score"},
		{"negative score", []string{"--min-score=-1"}, "min-score"},
		{"unknown status", []string{"--status", "archived"}, "unknown status"},
		{"bad date", []string{"--from", "03/01/2026"}, "--from"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseQueryFlags(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestFormatMoney(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		low, high *float64
		want      string
	}{
		{nil, nil, "-"},
		{f(250000), f(250000), "$250000"},
		{f(100000), f(500000), "$100000-$500000"},
		{f(1000000), nil, "$1000000+"},
		{nil, f(50000), "<= $50000"},
	}
	for _, tt := range tests {
		if got := formatMoney(tt.low, tt.high); got != tt.want {
			t.Errorf("formatMoney() = %q, want %q", got, tt.want)
		}
	}
}

func TestRenderRuns(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	runs := []db.Run{{
		ID:          uuid.New(),
		Source:      "arlington-bids",
		Status:      db.RunFailed,
		StartedAt:   started,
		FinishedAt:  &finished,
		Seen:        12,
		Normalized:  10,
		Skipped:     2,
		Inserted:    7,
		Merged:      3,
		SkipReasons: map[string]int{"title:missing": 1, "deadline:unparseable": 1},
		Error:       "fetch: unexpected status 503",
	}}

	var buf bytes.Buffer
	renderRuns(&buf, runs)
	out := buf.String()

	for _, want := range []string{
		"arlington-bids",
		"1.5s",
		"arlington-bids skipped: deadline:unparseable=1, title:missing=1",
		"arlington-bids failed: fetch: unexpected status 503",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderOpportunities(t *testing.T) {
	deadline := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	opps := []models.Opportunity{{
		ID:               uuid.New(),
		Title:            "Courthouse Roof Replacement",
		Jurisdiction:     "Arlington County",
		Category:         "roofing",
		ResponseDeadline: &deadline,
		Score:            82.4,
		Status:           models.StatusNew,
	}}

	var buf bytes.Buffer
	renderOpportunities(&buf, opps)
	out := strings.ToLower(buf.String())
	for _, want := range []string{"courthouse roof replacement", "82.4", "2026-04-15", "1 opportunities"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
