package resolve

import (
	"strings"
	"unicode"
)

// Words that carry no identity. Portals decorate the same listing with
// different solicitation prefixes.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "at": true, "for": true, "in": true,
	"of": true, "on": true, "the": true, "to": true,
	"rfp": true, "rfq": true, "ifb": true, "itb": true,
}

var apostrophes = strings.NewReplacer("'", "", "’", "")

// TokenSet is a normalized set of title words.
type TokenSet map[string]struct{}

// Tokens lowercases title, drops punctuation and stop words, and returns
// the distinct remaining words.
func Tokens(title string) TokenSet {
	title = apostrophes.Replace(strings.ToLower(title))
	words := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(TokenSet, len(words))
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are not similar.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
