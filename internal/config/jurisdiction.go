package config

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	stateSuffix = regexp.MustCompile(`(?:,\s*|\s+)(va|virginia|md|maryland|dc)$`)
	keyCleaner  = strings.NewReplacer("\u2019", "'", ".", "", "\u00a0", " ")
)

// jurisdictionKey is the case-folded form used for vocabulary lookups.
func jurisdictionKey(s string) string {
	s = keyCleaner.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// generatedAliases derives short forms such as "arlington" from
// "Arlington County" or "alexandria" from "City of Alexandria".
func generatedAliases(key string) []string {
	var out []string
	for _, suffix := range []string{" county", " city"} {
		if base, ok := strings.CutSuffix(key, suffix); ok && base != "" {
			out = append(out, base)
		}
	}
	if base, ok := strings.CutPrefix(key, "city of "); ok && base != "" {
		out = append(out, base)
	}
	return out
}

// buildJurisdictionIndex registers names, then explicit aliases, then
// generated aliases. Explicit conflicts are errors; generated aliases that
// collide with anything are dropped.
func (p *Profile) buildJurisdictionIndex() []error {
	var errs []error
	index := make(map[string]string)
	tiers := make(map[string]Tier)

	for i, j := range p.Jurisdictions {
		key := jurisdictionKey(j.Name)
		if key == "" {
			continue
		}
		if prev, ok := index[key]; ok {
			errs = append(errs, &ConfigurationError{
				Path:    fmt.Sprintf("jurisdictions[%d]", i),
				Problem: fmt.Sprintf("%q duplicates %q", j.Name, prev),
			})
			continue
		}
		index[key] = j.Name
		tiers[j.Name] = j.Tier
	}

	for i, j := range p.Jurisdictions {
		for _, alias := range j.Aliases {
			key := jurisdictionKey(alias)
			if key == "" {
				continue
			}
			if prev, ok := index[key]; ok && prev != j.Name {
				errs = append(errs, &ConfigurationError{
					Path:    fmt.Sprintf("jurisdictions[%d].aliases", i),
					Problem: fmt.Sprintf("alias %q already resolves to %q", alias, prev),
				})
				continue
			}
			index[key] = j.Name
		}
	}

	generated := make(map[string]string)
	ambiguous := make(map[string]bool)
	for _, j := range p.Jurisdictions {
		for _, alias := range generatedAliases(jurisdictionKey(j.Name)) {
			if _, taken := index[alias]; taken {
				continue
			}
			if prev, ok := generated[alias]; ok && prev != j.Name {
				ambiguous[alias] = true
				continue
			}
			generated[alias] = j.Name
		}
	}
	for alias, name := range generated {
		if !ambiguous[alias] {
			index[alias] = name
		}
	}

	p.jurisdictionIndex = index
	p.tiers = tiers
	return errs
}

// ResolveJurisdiction maps free text onto the controlled vocabulary.
// A trailing state ("Arlington, VA") is ignored when the full text does not
// resolve.
func (p *Profile) ResolveJurisdiction(raw string) (string, bool) {
	key := jurisdictionKey(raw)
	if key == "" {
		return "", false
	}
	if name, ok := p.jurisdictionIndex[key]; ok {
		return name, true
	}
	if trimmed := strings.TrimSpace(stateSuffix.ReplaceAllString(key, "")); trimmed != key && trimmed != "" {
		if name, ok := p.jurisdictionIndex[trimmed]; ok {
			return name, true
		}
	}
	return "", false
}

// TierOf returns the tier of a canonical jurisdiction name, or "" when the
// name is not in the vocabulary.
func (p *Profile) TierOf(name string) Tier {
	return p.tiers[name]
}
