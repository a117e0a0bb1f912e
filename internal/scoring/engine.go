package scoring

import (
	"math"
	"slices"
	"time"

	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/models"
)

// Engine computes the five-factor relevance score. It holds no mutable
// state; the same opportunity and day always produce the same score.
type Engine struct {
	profile *config.Profile
	matcher *Matcher
}

func NewEngine(profile *config.Profile) *Engine {
	return &Engine{profile: profile, matcher: NewMatcher(profile)}
}

func (e *Engine) Matcher() *Matcher {
	return e.matcher
}

// Categorize picks the keyword category for o's current text.
func (e *Engine) Categorize(o models.Opportunity) string {
	return e.matcher.Match(o.Title, o.Description).Category(e.profile.CategoryNames(), models.Uncategorized)
}

// Result is the outcome of scoring one opportunity.
type Result struct {
	Total     float64
	Breakdown models.ScoreBreakdown
	Keywords  []string
}

// Score evaluates o as of today. Only the deadline factor depends on today.
func (e *Engine) Score(o models.Opportunity, today time.Time) Result {
	km := e.matcher.Match(o.Title, o.Description)
	b := models.ScoreBreakdown{
		Keyword:  round2(e.keywordFactor(km)),
		Location: round2(e.locationFactor(o)),
		Budget:   round2(e.budgetFactor(o.EstimatedValueLow, o.EstimatedValueHigh)),
		Deadline: round2(e.deadlineFactor(o.ResponseDeadline, today)),
		SetAside: round2(e.setAsideFactor(o.SetAsideType)),
	}
	total := math.Round(b.Sum()*10) / 10
	return Result{Total: clamp(total, 0, 100), Breakdown: b, Keywords: km.Keywords}
}

// Apply scores o in place and reports whether the stored score changed.
func (e *Engine) Apply(o *models.Opportunity, today time.Time) bool {
	r := e.Score(*o, today)
	changed := o.Score != r.Total || o.ScoreBreakdown != r.Breakdown || !slices.Equal(o.KeywordMatches, r.Keywords)
	o.Score = r.Total
	o.ScoreBreakdown = r.Breakdown
	o.KeywordMatches = r.Keywords
	return changed
}

func (e *Engine) keywordFactor(km KeywordMatch) float64 {
	cfg := e.profile.Scoring.Keyword
	weight := e.profile.Scoring.Weights.Keyword

	base := math.Min(float64(km.Distinct)*cfg.PointsPerMatch, cfg.BaseCap)
	if km.Bonus {
		base += cfg.BonusPoints
	}
	return clamp(base, 0, weight)
}

func (e *Engine) locationFactor(o models.Opportunity) float64 {
	if !o.JurisdictionResolved {
		return 0
	}
	switch e.profile.TierOf(o.Jurisdiction) {
	case config.TierTarget:
		return e.profile.Scoring.Weights.Location
	case config.TierRegion:
		return e.profile.Scoring.Location.RegionPoints
	default:
		return 0
	}
}

func (e *Engine) budgetFactor(low, high *float64) float64 {
	cfg := e.profile.Scoring.Budget
	weight := e.profile.Scoring.Weights.Budget

	if low == nil && high == nil {
		return weight * cfg.NeutralFraction
	}
	var lo, hi float64
	switch {
	case low == nil:
		lo, hi = *high, *high
	case high == nil:
		lo, hi = *low, *low
	default:
		lo, hi = *low, *high
	}
	if lo > hi {
		lo, hi = hi, lo
	}

	switch {
	case lo >= cfg.TargetLow && hi <= cfg.TargetHigh:
		return weight
	case lo <= cfg.TargetHigh && hi >= cfg.TargetLow:
		// Partial overlap: credit grows with the share of the range inside the target.
		overlap := math.Min(hi, cfg.TargetHigh) - math.Max(lo, cfg.TargetLow)
		share := 0.0
		if hi > lo {
			share = overlap / (hi - lo)
		}
		return weight * (cfg.PartialFloor + (1-cfg.PartialFloor)*share)
	case hi < cfg.TargetLow:
		return weight * decay(cfg.TargetLow-hi, cfg.FalloffBelow, cfg.OutsidePeak)
	default:
		return weight * decay(lo-cfg.TargetHigh, cfg.FalloffAbove, cfg.OutsidePeak)
	}
}

// decay falls linearly from peak at distance 0 to 0 at falloff.
func decay(distance, falloff, peak float64) float64 {
	if falloff <= 0 || distance >= falloff {
		return 0
	}
	return peak * (1 - distance/falloff)
}

func (e *Engine) deadlineFactor(deadline *time.Time, today time.Time) float64 {
	cfg := e.profile.Scoring.Deadline
	weight := e.profile.Scoring.Weights.Deadline

	if deadline == nil {
		return weight * cfg.NeutralFraction
	}
	days := DaysUntil(*deadline, today)
	switch {
	case days <= cfg.MinimumDays:
		return 0
	case days >= cfg.ComfortableDays:
		return weight
	default:
		return weight * (days - cfg.MinimumDays) / (cfg.ComfortableDays - cfg.MinimumDays)
	}
}

func (e *Engine) setAsideFactor(code *string) float64 {
	if code == nil || !e.profile.Favorable(*code) {
		return 0
	}
	return e.profile.Scoring.Weights.SetAside
}

// DaysUntil counts whole calendar days from today to deadline in UTC.
func DaysUntil(deadline, today time.Time) float64 {
	d := truncateDay(deadline)
	t := truncateDay(today)
	return math.Round(d.Sub(t).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
