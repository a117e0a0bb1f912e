package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profile.yaml
var defaultProfile []byte

// Tier places a jurisdiction relative to the company's service area.
type Tier string

const (
	TierTarget      Tier = "target"
	TierRegion      Tier = "region"
	TierOutOfRegion Tier = "out_of_region"
)

// Profile is the single active company profile. It is loaded once per run
// and passed by value or pointer to every component that needs it.
type Profile struct {
	Company       string            `yaml:"company"`
	Jurisdictions []Jurisdiction    `yaml:"jurisdictions"`
	Categories    []KeywordCategory `yaml:"categories"` // priority order, highest first
	BonusKeywords []string          `yaml:"bonus_keywords"`
	SetAsides     SetAsideConfig    `yaml:"set_asides"`
	Scoring       Scoring           `yaml:"scoring"`
	Resolver      ResolverConfig    `yaml:"resolver"`

	jurisdictionIndex map[string]string
	tiers             map[string]Tier
}

type Jurisdiction struct {
	Name    string   `yaml:"name"`
	Tier    Tier     `yaml:"tier"`
	Aliases []string `yaml:"aliases,omitempty"`
}

type KeywordCategory struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type SetAsideConfig struct {
	// Aliases are tried in order; the first rule with a matching phrase wins.
	Aliases   []SetAsideAlias `yaml:"aliases"`
	Favorable []string        `yaml:"favorable"`
}

type SetAsideAlias struct {
	Code  string   `yaml:"code"`
	Match []string `yaml:"match"`
}

type Scoring struct {
	Weights  Weights         `yaml:"weights"`
	Keyword  KeywordScoring  `yaml:"keyword"`
	Location LocationScoring `yaml:"location"`
	Budget   BudgetScoring   `yaml:"budget"`
	Deadline DeadlineScoring `yaml:"deadline"`
}

// Weights are the maximum points of each factor.
type Weights struct {
	Keyword  float64 `yaml:"keyword"`
	Location float64 `yaml:"location"`
	Budget   float64 `yaml:"budget"`
	Deadline float64 `yaml:"deadline"`
	SetAside float64 `yaml:"set_aside"`
}

func (w Weights) Total() float64 {
	return w.Keyword + w.Location + w.Budget + w.Deadline + w.SetAside
}

type KeywordScoring struct {
	PointsPerMatch float64 `yaml:"points_per_match"`
	BaseCap        float64 `yaml:"base_cap"`
	BonusPoints    float64 `yaml:"bonus_points"`
}

type LocationScoring struct {
	RegionPoints float64 `yaml:"region_points"`
}

type BudgetScoring struct {
	TargetLow       float64 `yaml:"target_low"`
	TargetHigh      float64 `yaml:"target_high"`
	PartialFloor    float64 `yaml:"partial_floor"`    // fraction of the weight kept by any overlapping range
	OutsidePeak     float64 `yaml:"outside_peak"`     // fraction just outside the target range
	FalloffBelow    float64 `yaml:"falloff_below"`    // dollars below target_low where credit reaches 0
	FalloffAbove    float64 `yaml:"falloff_above"`    // dollars above target_high where credit reaches 0
	NeutralFraction float64 `yaml:"neutral_fraction"` // used when no value is known
}

type DeadlineScoring struct {
	MinimumDays     float64 `yaml:"minimum_days"`
	ComfortableDays float64 `yaml:"comfortable_days"`
	NeutralFraction float64 `yaml:"neutral_fraction"`
}

type ResolverConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	WindowDays          int     `yaml:"window_days"`
}

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Path    string
	Problem string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration at %s: %s", e.Path, e.Problem)
}

// Default returns the embedded profile.
func Default() (*Profile, error) {
	return Parse(defaultProfile)
}

// Load reads the profile at path, or the embedded default when path is empty.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Problem: err.Error()}
	}
	return Parse(data)
}

// Parse decodes and validates a profile document. Environment variables
// (e.g. ${COMPANY_NAME}) are expanded first.
func Parse(data []byte) (*Profile, error) {
	expanded := os.ExpandEnv(string(data))

	var p Profile
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, &ConfigurationError{Path: "profile", Problem: err.Error()}
	}

	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.Resolver.SimilarityThreshold == 0 {
		p.Resolver.SimilarityThreshold = 0.6
	}
	if p.Resolver.WindowDays == 0 {
		p.Resolver.WindowDays = 7
	}
}

// Validate checks every section and builds the lookup indexes. All problems
// are reported together.
func (p *Profile) Validate() error {
	var errs []error
	add := func(path, format string, args ...any) {
		errs = append(errs, &ConfigurationError{Path: path, Problem: fmt.Sprintf(format, args...)})
	}

	if len(p.Jurisdictions) == 0 {
		add("jurisdictions", "at least one jurisdiction is required")
	}
	for i, j := range p.Jurisdictions {
		path := fmt.Sprintf("jurisdictions[%d]", i)
		if strings.TrimSpace(j.Name) == "" {
			add(path, "name is required")
		}
		switch j.Tier {
		case TierTarget, TierRegion, TierOutOfRegion:
		default:
			add(path, "unknown tier %q", j.Tier)
		}
	}
	errs = append(errs, p.buildJurisdictionIndex()...)

	if len(p.Categories) == 0 {
		add("categories", "at least one keyword category is required")
	}
	seenCat := map[string]bool{}
	for i, c := range p.Categories {
		path := fmt.Sprintf("categories[%d]", i)
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			add(path, "name is required")
		case seenCat[strings.ToLower(name)]:
			add(path, "duplicate category %q", name)
		}
		seenCat[strings.ToLower(name)] = true
		if len(c.Keywords) == 0 {
			add(path, "category %q has no keywords", name)
		}
	}

	codes := map[string]bool{}
	for i, a := range p.SetAsides.Aliases {
		if strings.TrimSpace(a.Code) == "" {
			add(fmt.Sprintf("set_asides.aliases[%d]", i), "code is required")
		}
		if len(a.Match) == 0 {
			add(fmt.Sprintf("set_asides.aliases[%d]", i), "match list is empty")
		}
		codes[a.Code] = true
	}
	for _, f := range p.SetAsides.Favorable {
		if !codes[f] {
			add("set_asides.favorable", "unknown set-aside code %q", f)
		}
	}

	w := p.Scoring.Weights
	for name, v := range map[string]float64{
		"keyword": w.Keyword, "location": w.Location, "budget": w.Budget,
		"deadline": w.Deadline, "set_aside": w.SetAside,
	} {
		if v < 0 {
			add("scoring.weights."+name, "must not be negative")
		}
	}
	if w.Total() <= 0 || w.Total() > 100 {
		add("scoring.weights", "weights must sum to a value in (0, 100], got %g", w.Total())
	}

	k := p.Scoring.Keyword
	if k.PointsPerMatch < 0 || k.BaseCap < 0 || k.BonusPoints < 0 {
		add("scoring.keyword", "points must not be negative")
	}
	if p.Scoring.Location.RegionPoints < 0 || p.Scoring.Location.RegionPoints > w.Location {
		add("scoring.location.region_points", "must be within [0, %g]", w.Location)
	}

	b := p.Scoring.Budget
	if b.TargetLow < 0 || b.TargetHigh < b.TargetLow {
		add("scoring.budget", "target range [%g, %g] is invalid", b.TargetLow, b.TargetHigh)
	}
	if b.FalloffBelow < 0 || b.FalloffAbove < 0 {
		add("scoring.budget", "falloff distances must not be negative")
	}
	for name, v := range map[string]float64{
		"partial_floor": b.PartialFloor, "outside_peak": b.OutsidePeak, "neutral_fraction": b.NeutralFraction,
	} {
		if v < 0 || v > 1 {
			add("scoring.budget."+name, "must be a fraction in [0, 1]")
		}
	}

	d := p.Scoring.Deadline
	if d.MinimumDays < 0 || d.ComfortableDays <= d.MinimumDays {
		add("scoring.deadline", "need 0 <= minimum_days < comfortable_days, got %g and %g", d.MinimumDays, d.ComfortableDays)
	}
	if d.NeutralFraction < 0 || d.NeutralFraction > 1 {
		add("scoring.deadline.neutral_fraction", "must be a fraction in [0, 1]")
	}

	if t := p.Resolver.SimilarityThreshold; t <= 0 || t > 1 {
		add("resolver.similarity_threshold", "must be in (0, 1], got %g", t)
	}
	if p.Resolver.WindowDays < 1 {
		add("resolver.window_days", "must be at least 1")
	}

	return errors.Join(errs...)
}

// Favorable reports whether code is one of the preferred set-aside programs.
func (p *Profile) Favorable(code string) bool {
	for _, f := range p.SetAsides.Favorable {
		if f == code {
			return true
		}
	}
	return false
}

// CategoryNames returns category names in priority order.
func (p *Profile) CategoryNames() []string {
	names := make([]string, len(p.Categories))
	for i, c := range p.Categories {
		names[i] = c.Name
	}
	return names
}
