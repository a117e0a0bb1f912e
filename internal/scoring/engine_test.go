package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/models"
)

var today = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	p, err := config.Default()
	if err != nil {
		t.Fatalf("default profile: %v", err)
	}
	return NewEngine(p)
}

func ptr[T any](v T) *T { return &v }

func TestScoreCourthouseWaterproofingInTargetArea(t *testing.T) {
	e := newTestEngine(t)
	o := models.Opportunity{
		Title:                "Exterior Waterproofing — Courthouse Annex",
		Jurisdiction:         "Arlington County",
		JurisdictionResolved: true,
		EstimatedValueLow:    ptr(120000.0),
		EstimatedValueHigh:   ptr(120000.0),
		ResponseDeadline:     ptr(today.AddDate(0, 0, 20)),
		SetAsideType:         ptr("small_business"),
	}

	r := e.Score(o, today)
	want := models.ScoreBreakdown{Keyword: 20, Location: 25, Budget: 20, Deadline: 15, SetAside: 10}
	if r.Breakdown != want {
		t.Fatalf("breakdown = %+v, want %+v", r.Breakdown, want)
	}
	if r.Total < 90 || r.Total > 100 {
		t.Fatalf("expected total in [90,100], got %v", r.Total)
	}
	if len(r.Keywords) != 1 || r.Keywords[0] != "waterproofing" {
		t.Fatalf("unexpected keywords: %v", r.Keywords)
	}
}

func TestScoreOutOfRegionWithoutDetails(t *testing.T) {
	e := newTestEngine(t)
	o := models.Opportunity{
		Title:                "Exterior Waterproofing — Courthouse Annex",
		Jurisdiction:         "City of Richmond",
		JurisdictionResolved: true,
	}

	r := e.Score(o, today)
	if r.Breakdown.Location != 0 || r.Breakdown.SetAside != 0 {
		t.Fatalf("unexpected breakdown: %+v", r.Breakdown)
	}
	if r.Breakdown.Budget != 7 || r.Breakdown.Deadline != 7.5 {
		t.Fatalf("expected neutral budget and deadline, got %+v", r.Breakdown)
	}
	if r.Total >= 50 {
		t.Fatalf("expected total well below 50, got %v", r.Total)
	}
}

func TestLocationFactor(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		name     string
		opp      models.Opportunity
		expected float64
	}{
		{"target", models.Opportunity{Jurisdiction: "Fairfax County", JurisdictionResolved: true}, 25},
		{"region", models.Opportunity{Jurisdiction: "Montgomery County", JurisdictionResolved: true}, 15},
		{"out of region", models.Opportunity{Jurisdiction: "City of Baltimore", JurisdictionResolved: true}, 0},
		{"unresolved", models.Opportunity{Jurisdiction: "Arlington County", JurisdictionResolved: false}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.locationFactor(tt.opp); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestBudgetFactor(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		name     string
		low      *float64
		high     *float64
		expected float64
	}{
		{"inside", ptr(100000.0), ptr(200000.0), 20},
		{"edges", ptr(50000.0), ptr(2500000.0), 20},
		{"partial overlap", ptr(20000.0), ptr(100000.0), 16.25},
		{"just below", ptr(40000.0), ptr(40000.0), 6.67},
		{"far below", ptr(10000.0), ptr(10000.0), 0},
		{"above", ptr(3750000.0), ptr(3750000.0), 5},
		{"high only", nil, ptr(100000.0), 20},
		{"swapped", ptr(200000.0), ptr(100000.0), 20},
		{"unknown", nil, nil, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := round2(e.budgetFactor(tt.low, tt.high))
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDeadlineFactor(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		name     string
		days     int
		expected float64
	}{
		{"past", -2, 0},
		{"minimum", 3, 0},
		{"between", 9, 8.18},
		{"comfortable", 14, 15},
		{"far", 60, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deadline := today.AddDate(0, 0, tt.days)
			got := round2(e.deadlineFactor(&deadline, today))
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}

	if got := e.deadlineFactor(nil, today); got != 7.5 {
		t.Errorf("expected neutral 7.5 for missing deadline, got %v", got)
	}
}

func TestKeywordFactorCapsAndBonus(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		title    string
		expected float64
	}{
		{"Waterproofing, caulking and joint sealant at the roof leak", 30},
		{"Interior renovation and office renovation", 20},
		{"Restroom renovation", 10},
		{"Landscaping services", 0},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got := e.keywordFactor(e.matcher.Match(tt.title))
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestBonusKeywordIsAFlatAddition(t *testing.T) {
	p, err := config.Default()
	if err != nil {
		t.Fatalf("default profile: %v", err)
	}
	p.BonusKeywords = append(p.BonusKeywords, "green roof")
	e := NewEngine(p)

	km := e.matcher.Match("Green roof installation at the library")
	if !km.Bonus || km.Distinct != 0 {
		t.Fatalf("bonus = %v, distinct = %d", km.Bonus, km.Distinct)
	}
	if len(km.Keywords) != 1 || km.Keywords[0] != "green roof" {
		t.Fatalf("unexpected keywords: %v", km.Keywords)
	}
	if got := e.keywordFactor(km); got != 10 {
		t.Errorf("expected only the bonus points, got %v", got)
	}

	km = e.matcher.Match("Green roof over waterproofing")
	if km.Distinct != 1 {
		t.Errorf("expected one category keyword, got %d", km.Distinct)
	}
	if got := e.keywordFactor(km); got != 20 {
		t.Errorf("expected 10 for the match plus 10 bonus, got %v", got)
	}
}

func TestFactorsStayInBounds(t *testing.T) {
	e := newTestEngine(t)
	w := e.profile.Scoring.Weights
	values := []float64{0, 1, 30000, 49999, 50000, 75000, 2500000, 2600000, 9e6, 1e9}
	for _, lo := range values {
		for _, hi := range values {
			b := e.budgetFactor(&lo, &hi)
			if b < 0 || b > w.Budget {
				t.Fatalf("budget(%v,%v) = %v out of range", lo, hi, b)
			}
		}
	}
	for d := -30; d <= 120; d++ {
		deadline := today.AddDate(0, 0, d)
		v := e.deadlineFactor(&deadline, today)
		if v < 0 || v > w.Deadline {
			t.Fatalf("deadline(+%d) = %v out of range", d, v)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	o := models.Opportunity{
		Title:                "Parking deck traffic coating",
		Jurisdiction:         "Loudoun County",
		JurisdictionResolved: true,
	}
	if !e.Apply(&o, today) {
		t.Fatal("first apply should change the score")
	}
	first := o.Score
	if e.Apply(&o, today) {
		t.Fatal("second apply should be a no-op")
	}
	if o.Score != first {
		t.Fatalf("score drifted: %v -> %v", first, o.Score)
	}
	if math.IsNaN(o.Score) || o.Score < 0 || o.Score > 100 {
		t.Fatalf("score out of range: %v", o.Score)
	}
}

func TestCategory(t *testing.T) {
	e := newTestEngine(t)
	priority := e.profile.CategoryNames()
	tests := []struct {
		text     string
		expected string
	}{
		{"Roof leak and caulking repairs", "waterproofing"},
		{"IDIQ task order for interior renovation", "government"},
		{"Tenant improvement under IDIQ", "tenant_improvements"},
		{"Snow removal", models.Uncategorized},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := e.matcher.Match(tt.text).Category(priority, models.Uncategorized)
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestDaysUntilIgnoresTimeOfDay(t *testing.T) {
	deadline := time.Date(2026, 3, 5, 0, 30, 0, 0, time.UTC)
	if got := DaysUntil(deadline, today); got != 3 {
		t.Fatalf("expected 3 days, got %v", got)
	}
}
