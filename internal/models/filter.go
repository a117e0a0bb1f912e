package models

import (
	"slices"
	"strings"
	"time"
)

// Filter selects opportunities for Query. Zero values match everything,
// except that expired rows are hidden unless IncludeExpired is set.
type Filter struct {
	MinScore       *float64
	Statuses       []Status
	Jurisdictions  []string
	Categories     []string
	PostedFrom     *time.Time
	PostedTo       *time.Time
	IncludeExpired bool
	Limit          int
}

// Matches evaluates the filter in memory. The SQL backend builds the same
// predicate in its WHERE clause.
func (f Filter) Matches(o Opportunity) bool {
	if !f.IncludeExpired && o.Expired {
		return false
	}
	if f.MinScore != nil && o.Score < *f.MinScore {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
		return false
	}
	if len(f.Jurisdictions) > 0 && !containsFold(f.Jurisdictions, o.Jurisdiction) {
		return false
	}
	if len(f.Categories) > 0 && !containsFold(f.Categories, o.Category) {
		return false
	}
	if f.PostedFrom != nil && o.PostedDate.Before(*f.PostedFrom) {
		return false
	}
	if f.PostedTo != nil && o.PostedDate.After(*f.PostedTo) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

// RankLess orders by score desc, posted_date desc, then id so the order is total.
func RankLess(a, b Opportunity) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.PostedDate.Equal(b.PostedDate) {
		return a.PostedDate.After(b.PostedDate)
	}
	return a.ID.String() < b.ID.String()
}
