package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalProfile = `
jurisdictions:
  - name: Arlington County
    tier: target
  - name: City of Fairfax
    tier: target
  - name: Fairfax County
    tier: target
  - name: City of Richmond
    tier: out_of_region
categories:
  - name: waterproofing
    keywords: [waterproofing]
set_asides:
  aliases:
    - code: small_business
      match: [small business]
  favorable: [small_business]
scoring:
  weights: {keyword: 30, location: 25, budget: 20, deadline: 15, set_aside: 10}
  keyword: {points_per_match: 10, base_cap: 20, bonus_points: 10}
  location: {region_points: 15}
  budget: {target_low: 50000, target_high: 2500000, partial_floor: 0.5, outside_peak: 0.5, falloff_below: 30000, falloff_above: 2500000, neutral_fraction: 0.35}
  deadline: {minimum_days: 3, comfortable_days: 14, neutral_fraction: 0.5}
`

func TestDefaultProfileIsValid(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatalf("embedded profile invalid: %v", err)
	}
	if p.Scoring.Weights.Total() != 100 {
		t.Fatalf("expected weights to sum to 100, got %g", p.Scoring.Weights.Total())
	}
	if p.Resolver.SimilarityThreshold != 0.6 || p.Resolver.WindowDays != 7 {
		t.Fatalf("unexpected resolver defaults: %+v", p.Resolver)
	}
	if got := p.CategoryNames()[0]; got != "waterproofing" {
		t.Fatalf("expected waterproofing to have top priority, got %s", got)
	}
}

func TestResolveJurisdiction(t *testing.T) {
	p, err := Parse([]byte(minimalProfile))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"Arlington County", "Arlington County", true},
		{"arlington", "Arlington County", true},
		{"  ARLINGTON  county ", "Arlington County", true},
		{"Arlington, VA", "Arlington County", true},
		{"Richmond", "City of Richmond", true},
		// "fairfax" is generated by both Fairfax entries, so it stays unresolved.
		{"Fairfax", "", false},
		{"Fairfax County", "Fairfax County", true},
		{"Baltimore", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := p.ResolveJurisdiction(tt.raw)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ResolveJurisdiction(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}

	if p.TierOf("Arlington County") != TierTarget {
		t.Error("expected Arlington County to be a target")
	}
	if p.TierOf("Nowhere") != "" {
		t.Error("unknown names have no tier")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	doc := strings.Replace(minimalProfile, "keyword: 30,", "keyword: 90,", 1)
	doc = strings.Replace(doc, "favorable: [small_business]", "favorable: [small_business, veteran]", 1)
	doc = strings.Replace(doc, "minimum_days: 3", "minimum_days: 20", 1)

	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
	for _, want := range []string{"scoring.weights", "set_asides.favorable", "scoring.deadline"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s: %v", want, err)
		}
	}
}

func TestExplicitAliasConflict(t *testing.T) {
	doc := strings.Replace(minimalProfile, "  - name: Arlington County\n    tier: target\n",
		"  - name: Arlington County\n    tier: target\n    aliases: [Richmond]\n", 1)
	doc = strings.Replace(doc, "  - name: City of Richmond\n    tier: out_of_region\n",
		"  - name: City of Richmond\n    tier: out_of_region\n    aliases: [Richmond]\n", 1)

	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "already resolves") {
		t.Fatalf("expected alias conflict, got %v", err)
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("BIDFINDER_TEST_COMPANY", "Oak Builders")
	path := filepath.Join(t.TempDir(), "profile.yaml")
	doc := "company: ${BIDFINDER_TEST_COMPANY}\n" + minimalProfile
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Company != "Oak Builders" {
		t.Fatalf("expected expanded company name, got %q", p.Company)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("colour: blue\n" + minimalProfile))
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}
