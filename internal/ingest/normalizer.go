package ingest

import (
	"strings"
	"time"

	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/models"
	"github.com/oakbuilders/bid-finder/internal/scoring"
)

const (
	maxTitleLen       = 500
	maxDescriptionLen = 20000

	// SetAsideOther marks a set-aside the vocabulary does not know.
	SetAsideOther = "other"
)

var setAsidePlaceholders = map[string]bool{
	"":               true,
	"-":              true,
	"none":           true,
	"n/a":            true,
	"na":             true,
	"no":             true,
	"no set-aside":   true,
	"no set aside":   true,
	"not applicable": true,
	"not specified":  true,
}

// SourceDefaults carries per-source settings the normalizer falls back on.
type SourceDefaults struct {
	Jurisdiction string
	DateFormats  []string
}

// Normalizer turns raw records into typed opportunity candidates. It is
// pure apart from the clock used for missing posted dates, and safe for
// concurrent use.
type Normalizer struct {
	profile    *config.Profile
	matcher    *scoring.Matcher
	categories []string
	now        func() time.Time
}

func NewNormalizer(profile *config.Profile, matcher *scoring.Matcher) *Normalizer {
	return &Normalizer{
		profile:    profile,
		matcher:    matcher,
		categories: profile.CategoryNames(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock, for tests and replays.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	c := *n
	c.now = now
	return &c
}

// Normalize builds a candidate or returns a *NormalizationError naming the
// offending field. Identity, score and timestamps are left to the store.
func (n *Normalizer) Normalize(raw RawRecord, defaults SourceDefaults) (models.Opportunity, error) {
	title := cleanText(raw.Get(FieldTitle))
	if title == "" {
		return models.Opportunity{}, &NormalizationError{Field: "title", Reason: ReasonMissing}
	}

	opp := models.Opportunity{
		SourceIDs:          map[string]string{raw.Source: strings.TrimSpace(raw.NativeID)},
		Title:              TruncateText(title, maxTitleLen),
		Description:        TruncateText(descriptionText(raw.Get(FieldDescription)), maxDescriptionLen),
		AgencyOrOwner:      cleanText(raw.Get(FieldAgency)),
		SourceURL:          strings.TrimSpace(raw.Get(FieldURL)),
		SolicitationNumber: cleanText(raw.Get(FieldSolicitationNumber)),
		NAICSCode:          cleanText(raw.Get(FieldNAICS)),
		ContactName:        cleanText(raw.Get(FieldContactName)),
		ContactEmail:       strings.ToLower(strings.TrimSpace(raw.Get(FieldContactEmail))),
		Status:             models.StatusNew,
	}

	value := raw.Get(FieldEstimatedValue)
	low, high, err := parseEstimatedValue(value)
	if err != nil {
		return models.Opportunity{}, &NormalizationError{Field: "currency", Value: value, Reason: ReasonUnparseable}
	}
	opp.EstimatedValueLow, opp.EstimatedValueHigh = low, high

	if posted := strings.TrimSpace(raw.Get(FieldPostedDate)); posted != "" {
		t, _, err := parseDateRobust(posted, defaults.DateFormats)
		if err != nil {
			return models.Opportunity{}, &NormalizationError{Field: "date", Value: posted, Reason: ReasonUnparseable}
		}
		opp.PostedDate = toStartOfDay(t)
	} else {
		opp.PostedDate = toStartOfDay(n.now())
		opp.PostedDateEstimated = true
	}

	// An unreadable deadline only weakens the deadline factor.
	if deadline := strings.TrimSpace(raw.Get(FieldDeadline)); deadline != "" {
		if t, dateOnly, err := parseDateRobust(deadline, defaults.DateFormats); err == nil {
			if dateOnly {
				t = toEndOfDay(t)
			}
			opp.ResponseDeadline = &t
		}
	}

	jurisdiction := firstNonEmpty(cleanText(raw.Get(FieldJurisdiction)), defaults.Jurisdiction)
	if jurisdiction == "" {
		return models.Opportunity{}, &NormalizationError{Field: "jurisdiction", Reason: ReasonMissing}
	}
	if name, ok := n.profile.ResolveJurisdiction(jurisdiction); ok {
		opp.Jurisdiction = name
		opp.JurisdictionResolved = true
	} else {
		opp.Jurisdiction = jurisdiction
	}

	km := n.matcher.Match(opp.Title, opp.Description)
	opp.Category = km.Category(n.categories, models.Uncategorized)
	opp.KeywordMatches = km.Keywords

	opp.SetAsideType = n.canonicalSetAside(raw.Get(FieldSetAside))

	return opp, nil
}

// canonicalSetAside maps free text onto the configured set-aside codes.
// Aliases are checked in order, so narrower programs are listed first.
func (n *Normalizer) canonicalSetAside(raw string) *string {
	v := strings.ToLower(cleanText(raw))
	if setAsidePlaceholders[strings.Trim(v, ".")] {
		return nil
	}
	for _, alias := range n.profile.SetAsides.Aliases {
		for _, phrase := range alias.Match {
			if strings.Contains(v, strings.ToLower(phrase)) {
				code := alias.Code
				return &code
			}
		}
	}
	other := SetAsideOther
	return &other
}
