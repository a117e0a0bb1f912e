package resolve

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/models"
)

var posted = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestResolver() *Resolver {
	return New(config.ResolverConfig{SimilarityThreshold: 0.6, WindowDays: 7})
}

func stored(title string, postedAt time.Time, seen time.Time) models.Opportunity {
	return models.Opportunity{
		ID:                   uuid.New(),
		SourceIDs:            map[string]string{"eva": ""},
		Title:                title,
		Jurisdiction:         "Arlington County",
		JurisdictionResolved: true,
		Category:             "waterproofing",
		PostedDate:           postedAt,
		FirstSeenAt:          seen,
		LastSeenAt:           seen,
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("RFP: Exterior Waterproofing — Courthouse Annex (Phase 2) & the Owner's Garage")
	want := []string{"exterior", "waterproofing", "courthouse", "annex", "phase", "2", "owners", "garage"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %v", len(want), got)
	}
	for _, w := range want {
		if _, ok := got[w]; !ok {
			t.Errorf("missing token %q in %v", w, got)
		}
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Exterior Waterproofing Courthouse Annex", "exterior waterproofing - courthouse annex", 1},
		{"roof repair library", "roof repair school", 0.5},
		{"alpha", "beta", 0},
		{"", "", 0},
		{"alpha beta gamma", "alpha beta gamma delta epsilon", 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			if got := Jaccard(Tokens(tt.a), Tokens(tt.b)); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBestMatchThresholdAndWindow(t *testing.T) {
	r := newTestResolver()
	seen := posted.Add(time.Hour)
	candidate := stored("Exterior Waterproofing Courthouse Annex", posted.AddDate(0, 0, 3), seen)
	candidate.ID = uuid.Nil
	candidate.SourceIDs = map[string]string{"bidnet": ""}

	tests := []struct {
		name  string
		row   func() models.Opportunity
		match bool
	}{
		{"same title inside window", func() models.Opportunity { return stored("Exterior Waterproofing - Courthouse Annex", posted, seen) }, true},
		{"exactly at threshold", func() models.Opportunity { return stored("Exterior Waterproofing Courthouse Garage", posted, seen) }, true},
		{"below threshold", func() models.Opportunity { return stored("Courthouse Annex Roof Replacement", posted, seen) }, false},
		{"outside window", func() models.Opportunity {
			return stored("Exterior Waterproofing Courthouse Annex", posted.AddDate(0, 0, -5), seen)
		}, false},
		{"other jurisdiction", func() models.Opportunity {
			o := stored("Exterior Waterproofing Courthouse Annex", posted, seen)
			o.Jurisdiction = "Fairfax County"
			return o
		}, false},
		{"other category", func() models.Opportunity {
			o := stored("Exterior Waterproofing Courthouse Annex", posted, seen)
			o.Category = "government"
			return o
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := r.BestMatch(candidate, []models.Opportunity{tt.row()})
			if ok != tt.match {
				t.Fatalf("expected match=%v, got %v", tt.match, ok)
			}
		})
	}
}

func TestBestMatchEstimatedPostedDate(t *testing.T) {
	r := newTestResolver()
	today := posted.AddDate(0, 0, 30)

	row := stored("Exterior Waterproofing Courthouse Annex", posted, today.Add(-24*time.Hour))
	candidate := stored("Exterior Waterproofing Courthouse Annex", today, today)
	candidate.ID = uuid.Nil

	if _, ok := r.BestMatch(candidate, []models.Opportunity{row}); ok {
		t.Fatal("a reported posted date a month apart must not match")
	}

	candidate.PostedDateEstimated = true
	if _, ok := r.BestMatch(candidate, []models.Opportunity{row}); !ok {
		t.Fatal("an undated listing should match the row last seen yesterday")
	}

	row.LastSeenAt = today.AddDate(0, 0, -20)
	if _, ok := r.BestMatch(candidate, []models.Opportunity{row}); ok {
		t.Fatal("a row not seen for weeks must not match")
	}
}

func TestBestMatchTieBreak(t *testing.T) {
	r := newTestResolver()
	candidate := stored("Exterior Waterproofing Courthouse Annex", posted, posted)
	candidate.ID = uuid.Nil

	older := stored("Exterior Waterproofing Courthouse Annex", posted, posted.Add(time.Hour))
	newer := stored("Exterior Waterproofing Courthouse Annex", posted, posted.Add(2*time.Hour))
	weaker := stored("Exterior Waterproofing Courthouse Annex Garage", posted, posted.Add(3*time.Hour))

	m, ok := r.BestMatch(candidate, []models.Opportunity{older, weaker, newer})
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Opportunity.ID != newer.ID {
		t.Fatalf("expected most recently seen exact match, got %q seen %v", m.Opportunity.Title, m.Opportunity.LastSeenAt)
	}
	if m.Similarity != 1 {
		t.Fatalf("expected similarity 1, got %v", m.Similarity)
	}
}

func TestBestMatchSkipsConflictingNativeID(t *testing.T) {
	r := newTestResolver()
	candidate := stored("Exterior Waterproofing Courthouse Annex", posted, posted)
	candidate.ID = uuid.Nil
	candidate.SourceIDs = map[string]string{"eva": "EVA-2"}

	row := stored("Exterior Waterproofing Courthouse Annex", posted, posted)
	row.SourceIDs = map[string]string{"eva": "EVA-1"}

	if _, ok := r.BestMatch(candidate, []models.Opportunity{row}); ok {
		t.Fatal("rows with a different native id from the same source must not merge")
	}
}

func TestMerge(t *testing.T) {
	low, high := 100000.0, 150000.0
	deadline := posted.AddDate(0, 0, 20)
	code := "small_business"

	base := func() models.Opportunity {
		o := stored("Exterior Waterproofing", posted, posted)
		o.SourceIDs = map[string]string{"eva": "EVA-1"}
		o.Status = models.StatusWon
		o.Notes = "call owner"
		o.Description = "old"
		return o
	}
	candidate := models.Opportunity{
		SourceIDs:            map[string]string{"bidnet": ""},
		Title:                "Exterior Waterproofing Rev 2",
		Description:          "new scope",
		Jurisdiction:         "Arlington County",
		JurisdictionResolved: true,
		EstimatedValueLow:    &low,
		EstimatedValueHigh:   &high,
		ResponseDeadline:     &deadline,
		SetAsideType:         &code,
		PostedDate:           posted,
		Status:               models.StatusNew,
	}

	t.Run("refreshes fields and keeps status", func(t *testing.T) {
		o := base()
		if !Merge(&o, candidate, AllFields) {
			t.Fatal("expected change")
		}
		if o.Title != candidate.Title || o.Description != "new scope" {
			t.Errorf("fields not refreshed: %q %q", o.Title, o.Description)
		}
		if o.Status != models.StatusWon || o.Notes != "call owner" {
			t.Errorf("status or notes overwritten: %s %q", o.Status, o.Notes)
		}
		if o.SourceIDs["eva"] != "EVA-1" || len(o.SourceIDs) != 2 {
			t.Errorf("unexpected source ids %v", o.SourceIDs)
		}
		if *o.EstimatedValueLow != low || o.ResponseDeadline == nil || *o.SetAsideType != code {
			t.Errorf("optional fields not merged")
		}
	})

	t.Run("user edits win", func(t *testing.T) {
		o := base()
		o.UserEditedFields = []string{models.FieldTitle}
		Merge(&o, candidate, AllFields)
		if o.Title != "Exterior Waterproofing" {
			t.Errorf("user edited title overwritten: %q", o.Title)
		}
		if o.Description != "new scope" {
			t.Errorf("unlocked field not refreshed")
		}
	})

	t.Run("authority limits fields", func(t *testing.T) {
		o := base()
		Merge(&o, candidate, OnlyFields([]string{FieldEstimatedValue}))
		if o.Title != "Exterior Waterproofing" || o.Description != "old" {
			t.Errorf("non-authoritative fields overwritten")
		}
		if o.EstimatedValueLow == nil || *o.EstimatedValueLow != low {
			t.Errorf("authoritative field not merged")
		}
	})

	t.Run("empty values never erase", func(t *testing.T) {
		o := base()
		o.SourceURL = "https://example.gov/bids/1"
		Merge(&o, models.Opportunity{SourceIDs: map[string]string{"eva": ""}, PostedDate: posted, PostedDateEstimated: true}, AllFields)
		if o.SourceURL == "" || o.Title == "" || o.SourceIDs["eva"] != "EVA-1" {
			t.Errorf("empty candidate erased data: %+v", o)
		}
	})

	t.Run("merge is idempotent", func(t *testing.T) {
		o := base()
		Merge(&o, candidate, AllFields)
		if Merge(&o, candidate, AllFields) {
			t.Fatal("second merge of the same candidate reported a change")
		}
	})

	t.Run("unresolved text keeps resolved jurisdiction", func(t *testing.T) {
		o := base()
		c := candidate
		c.Jurisdiction = "Somewhere, VA"
		c.JurisdictionResolved = false
		Merge(&o, c, AllFields)
		if o.Jurisdiction != "Arlington County" || !o.JurisdictionResolved {
			t.Errorf("resolved jurisdiction replaced by %q", o.Jurisdiction)
		}
	})

	t.Run("estimated posted date does not replace reported one", func(t *testing.T) {
		o := base()
		c := candidate
		c.PostedDate = posted.AddDate(0, 0, 4)
		c.PostedDateEstimated = true
		Merge(&o, c, AllFields)
		if !o.PostedDate.Equal(posted) {
			t.Errorf("posted date replaced by estimate: %v", o.PostedDate)
		}
	})
}

func TestTouch(t *testing.T) {
	o := stored("x", posted, posted.Add(time.Hour))
	Touch(&o, posted)
	if !o.LastSeenAt.Equal(posted.Add(time.Hour)) {
		t.Fatalf("last_seen_at moved backwards: %v", o.LastSeenAt)
	}
	Touch(&o, posted.Add(2*time.Hour))
	if !o.LastSeenAt.Equal(posted.Add(2 * time.Hour)) {
		t.Fatalf("last_seen_at not bumped: %v", o.LastSeenAt)
	}
}
