package ingest

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	// stripPolicy removes every tag; script and style bodies go with them.
	stripPolicy = bluemonday.StrictPolicy()
	// blockPolicy keeps paragraph structure so descriptions keep their line breaks.
	blockPolicy = bluemonday.UGCPolicy()
)

const blockElements = "p, div, ul, ol, li, table, tr, h1, h2, h3, h4, h5, h6, blockquote, pre"

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// descriptionText converts a listing body to plain text with one line per
// paragraph, list item or table row.
func descriptionText(raw string) string {
	raw = sanitizeUTF8(raw)
	if !strings.Contains(raw, "<") {
		return cleanLines(html.UnescapeString(raw))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(blockPolicy.Sanitize(raw)))
	if err != nil {
		return cleanText(raw)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockElements).BeforeHtml("\n").AfterHtml("\n")
	return cleanLines(doc.Text())
}

func cleanLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = normalizeSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// cleanText turns scraped markup or plain text into a single clean line:
// invalid UTF-8 dropped, tags stripped, entities decoded.
func cleanText(s string) string {
	s = sanitizeUTF8(s)
	if !strings.ContainsAny(s, "<&") {
		return normalizeSpace(s)
	}
	// StrictPolicy re-escapes entities, so decode after stripping.
	return normalizeSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
}

// TruncateText cuts a string to maxLen runes, appending an ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	if maxLen > 3 {
		return string(runes[:maxLen-3]) + "..."
	}
	return string(runes[:maxLen])
}

// sanitizeUTF8 removes invalid UTF-8 byte sequences that cause PostgreSQL errors.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
