package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountToken = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(thousand|million|billion|mm|bn|k|m|b)?\b`)
	// Separators that turn two amounts into a range.
	rangeSeparator = regexp.MustCompile(`(?i)\d\s*[kmb]?\s*(?:-|–|—|\bto\b|\band\b|\bthrough\b)\s*\$?\s*\d`)
)

var amountPlaceholders = map[string]bool{
	"":                  true,
	"-":                 true,
	"n/a":               true,
	"na":                true,
	"tbd":               true,
	"tba":               true,
	"none":              true,
	"unknown":           true,
	"not specified":     true,
	"not available":     true,
	"varies":            true,
	"see solicitation":  true,
	"see documents":     true,
	"see bid documents": true,
}

func isAmountPlaceholder(text string) bool {
	key := strings.Trim(strings.ToLower(normalizeSpace(text)), ".*")
	return amountPlaceholders[key]
}

// parseEstimatedValue reads free-form dollar amounts such as "$120,000",
// "$50K–$200K", "1.2M to 2M" or "Between $50,000 and $75,000".
// Placeholders ("TBD", "N/A") yield nil bounds without error. A single
// amount sets low = high.
func parseEstimatedValue(text string) (low, high *float64, err error) {
	if isAmountPlaceholder(text) {
		return nil, nil, nil
	}

	matches := amountToken.FindAllStringSubmatch(text, -1)
	type amount struct {
		raw    float64 // as written, before the suffix
		value  float64
		scaled bool
		commas bool
	}
	var amounts []amount
	for _, m := range matches {
		v, perr := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if perr != nil {
			continue
		}
		mult := amountMultiplier(m[2])
		amounts = append(amounts, amount{raw: v, value: v * mult, scaled: mult != 1, commas: strings.Contains(m[1], ",")})
	}
	if len(amounts) == 0 {
		return nil, nil, fmt.Errorf("no amount found in %q", text)
	}

	lo, hi := amounts[0], amounts[0]
	if len(amounts) > 1 && rangeSeparator.MatchString(text) {
		hi = amounts[1]
		// "$1-2M": the suffix on the upper bound applies to both, but
		// "$500,000 - $2M" already spells the lower bound out in dollars.
		if !lo.scaled && hi.scaled && (lo.raw < hi.raw || (!lo.commas && lo.raw < 1000)) {
			if carried := lo.raw * amountMultiplier(suffixOf(matches[1][2])); carried <= hi.value {
				lo.value = carried
			}
		}
	}
	if lo.value > hi.value {
		lo, hi = hi, lo
	}
	return &lo.value, &hi.value, nil
}

func suffixOf(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func amountMultiplier(suffix string) float64 {
	switch suffixOf(suffix) {
	case "k", "thousand":
		return 1e3
	case "m", "mm", "million":
		return 1e6
	case "b", "bn", "billion":
		return 1e9
	default:
		return 1
	}
}
