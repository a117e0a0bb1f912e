package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		valid    bool
	}{
		{StatusNew, false, true},
		{StatusReviewing, false, true},
		{StatusBidSubmitted, false, true},
		{StatusWon, true, true},
		{StatusLost, true, true},
		{StatusPassed, true, true},
		{Status("archived"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	low := 100.0
	o := Opportunity{
		SourceIDs:         map[string]string{"eva": "1"},
		KeywordMatches:    []string{"waterproofing"},
		EstimatedValueLow: &low,
	}
	c := o.Clone()
	c.SourceIDs["sam"] = "2"
	c.KeywordMatches[0] = "caulking"
	*c.EstimatedValueLow = 5

	if len(o.SourceIDs) != 1 {
		t.Fatalf("source ids aliased: %v", o.SourceIDs)
	}
	if o.KeywordMatches[0] != "waterproofing" {
		t.Fatalf("keyword matches aliased: %v", o.KeywordMatches)
	}
	if *o.EstimatedValueLow != 100 {
		t.Fatalf("value aliased: %v", *o.EstimatedValueLow)
	}
}

func TestEditApplyLocksFields(t *testing.T) {
	o := Opportunity{Title: "Old", Notes: ""}
	title := "Roof coating, Building 4"
	notes := "walk-through on Tuesday"

	touched := Edit{Title: &title, Notes: &notes}.Apply(&o)
	if len(touched) != 2 {
		t.Fatalf("expected 2 touched fields, got %v", touched)
	}
	if o.Title != title || o.Notes != notes {
		t.Fatalf("edit not applied: %+v", o)
	}
	if !o.UserEdited(FieldTitle) || !o.UserEdited(FieldNotes) {
		t.Fatalf("expected title and notes locked, got %v", o.UserEditedFields)
	}
	if o.UserEdited(FieldDescription) {
		t.Fatal("description should not be locked")
	}

	// Re-applying keeps the lock list unique.
	Edit{Title: &title}.Apply(&o)
	if len(o.UserEditedFields) != 2 {
		t.Fatalf("expected 2 locked fields, got %v", o.UserEditedFields)
	}
}

func TestFilterMatches(t *testing.T) {
	posted := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	o := Opportunity{
		Score:        72,
		Status:       StatusReviewing,
		Jurisdiction: "Arlington County",
		Category:     "waterproofing",
		PostedDate:   posted,
	}
	min70, min80 := 70.0, 80.0
	before := posted.Add(-24 * time.Hour)
	after := posted.Add(24 * time.Hour)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"score ok", Filter{MinScore: &min70}, true},
		{"score too low", Filter{MinScore: &min80}, false},
		{"status", Filter{Statuses: []Status{StatusNew, StatusReviewing}}, true},
		{"status miss", Filter{Statuses: []Status{StatusWon}}, false},
		{"jurisdiction case-insensitive", Filter{Jurisdictions: []string{"arlington county"}}, true},
		{"category miss", Filter{Categories: []string{"government"}}, false},
		{"date range", Filter{PostedFrom: &before, PostedTo: &after}, true},
		{"date after", Filter{PostedFrom: &after}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(o); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	o.Expired = true
	if (Filter{}).Matches(o) {
		t.Error("expired opportunity should be hidden by default")
	}
	if !(Filter{IncludeExpired: true}).Matches(o) {
		t.Error("expired opportunity should match with IncludeExpired")
	}
}

func TestRankLess(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	a := Opportunity{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Score: 80, PostedDate: day}
	b := Opportunity{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Score: 80, PostedDate: day.Add(24 * time.Hour)}
	c := Opportunity{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Score: 90, PostedDate: day}
	d := Opportunity{ID: uuid.MustParse("00000000-0000-0000-0000-000000000004"), Score: 80, PostedDate: day}

	if !RankLess(c, a) {
		t.Error("higher score should rank first")
	}
	if !RankLess(b, a) {
		t.Error("newer posted date should rank first on equal score")
	}
	if !RankLess(a, d) || RankLess(d, a) {
		t.Error("id should break remaining ties")
	}
}
