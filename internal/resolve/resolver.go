package resolve

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/models"
)

// Resolver decides whether a candidate without a native-id hit describes an
// already stored opportunity. It never fails: when in doubt it reports no
// match, so a duplicate row is preferred over a false merge.
type Resolver struct {
	threshold float64
	window    time.Duration
}

func New(cfg config.ResolverConfig) *Resolver {
	return &Resolver{
		threshold: cfg.SimilarityThreshold,
		window:    time.Duration(cfg.WindowDays) * 24 * time.Hour,
	}
}

func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Window returns the inclusive posted_date range searched around posted.
func (r *Resolver) Window(posted time.Time) (from, to time.Time) {
	return posted.Add(-r.window), posted.Add(r.window)
}

// InWindow reports whether e was posted within the window around the
// candidate. A candidate whose posted date is only its first-seen day also
// accepts rows last seen inside the window, so a listing without dates keeps
// resolving to the same row however long it stays up.
func (r *Resolver) InWindow(candidate, e models.Opportunity) bool {
	from, to := r.Window(candidate.PostedDate)
	if within(e.PostedDate, from, to) {
		return true
	}
	return candidate.PostedDateEstimated && within(e.LastSeenAt, from, to)
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// Match is a fuzzy resolution outcome.
type Match struct {
	Opportunity models.Opportunity
	Similarity  float64
}

// BestMatch scans existing for the row candidate most likely duplicates.
// Eligible rows share the jurisdiction and category, were posted inside the
// window and reach the similarity threshold. The highest similarity wins;
// ties go to the most recently seen row, then to the lowest id.
func (r *Resolver) BestMatch(candidate models.Opportunity, existing []models.Opportunity) (Match, bool) {
	tokens := Tokens(candidate.Title)

	var best Match
	found := false
	for _, e := range existing {
		if candidate.ID != uuid.Nil && e.ID == candidate.ID {
			continue
		}
		if !strings.EqualFold(e.Jurisdiction, candidate.Jurisdiction) || e.Category != candidate.Category {
			continue
		}
		if !r.InWindow(candidate, e) {
			continue
		}
		if conflictingNativeID(candidate, e) {
			continue
		}
		sim := Jaccard(tokens, Tokens(e.Title))
		if sim < r.threshold {
			continue
		}
		if !found || better(sim, e, best) {
			best = Match{Opportunity: e, Similarity: sim}
			found = true
		}
	}
	return best, found
}

func better(sim float64, e models.Opportunity, best Match) bool {
	if sim != best.Similarity {
		return sim > best.Similarity
	}
	if !e.LastSeenAt.Equal(best.Opportunity.LastSeenAt) {
		return e.LastSeenAt.After(best.Opportunity.LastSeenAt)
	}
	return e.ID.String() < best.Opportunity.ID.String()
}

// conflictingNativeID reports whether e already carries a different native
// id from one of candidate's sources. Such rows are distinct listings.
func conflictingNativeID(candidate, e models.Opportunity) bool {
	for source, native := range candidate.SourceIDs {
		if native == "" {
			continue
		}
		if have := e.SourceIDs[source]; have != "" && have != native {
			return true
		}
	}
	return false
}
