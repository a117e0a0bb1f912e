package scoring

import (
	"regexp"
	"sort"
	"strings"

	"github.com/oakbuilders/bid-finder/internal/config"
)

type compiledKeyword struct {
	text string
	re   *regexp.Regexp
}

type compiledCategory struct {
	name     string
	keywords []compiledKeyword
}

// Matcher finds profile keywords in listing text on word boundaries,
// case-insensitively.
type Matcher struct {
	categories []compiledCategory
	bonus      []compiledKeyword
}

// KeywordMatch is the result of scanning one listing.
type KeywordMatch struct {
	Keywords []string       // distinct matched keywords, lowercased and sorted
	Distinct int            // distinct category keywords matched; bonus-only terms excluded
	Counts   map[string]int // category name -> literal occurrences
	Bonus    bool
}

func NewMatcher(p *config.Profile) *Matcher {
	m := &Matcher{}
	for _, c := range p.Categories {
		cc := compiledCategory{name: c.Name}
		for _, kw := range c.Keywords {
			if k, ok := compileKeyword(kw); ok {
				cc.keywords = append(cc.keywords, k)
			}
		}
		m.categories = append(m.categories, cc)
	}
	for _, kw := range p.BonusKeywords {
		if k, ok := compileKeyword(kw); ok {
			m.bonus = append(m.bonus, k)
		}
	}
	return m
}

func compileKeyword(kw string) (compiledKeyword, bool) {
	kw = strings.ToLower(strings.Join(strings.Fields(kw), " "))
	if kw == "" {
		return compiledKeyword{}, false
	}
	// Internal whitespace matches any run of spaces or line breaks.
	pattern := strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`)
	return compiledKeyword{text: kw, re: regexp.MustCompile(`(?i)\b` + pattern + `\b`)}, true
}

// Match scans all texts together.
func (m *Matcher) Match(texts ...string) KeywordMatch {
	text := strings.Join(texts, "\n")
	result := KeywordMatch{Counts: make(map[string]int)}
	seen := make(map[string]bool)

	for _, c := range m.categories {
		for _, kw := range c.keywords {
			hits := len(kw.re.FindAllStringIndex(text, -1))
			if hits == 0 {
				continue
			}
			result.Counts[c.name] += hits
			seen[kw.text] = true
		}
	}
	result.Distinct = len(seen)
	for _, kw := range m.bonus {
		if kw.re.MatchString(text) {
			result.Bonus = true
			seen[kw.text] = true
		}
	}

	for kw := range seen {
		result.Keywords = append(result.Keywords, kw)
	}
	sort.Strings(result.Keywords)
	return result
}

// Category picks the category with the most keyword hits. Ties go to the
// category listed first in priority; no hits yields fallback.
func (km KeywordMatch) Category(priority []string, fallback string) string {
	best, bestCount := fallback, 0
	for _, name := range priority {
		if n := km.Counts[name]; n > bestCount {
			best, bestCount = name, n
		}
	}
	return best
}
