package ingest

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Layouts tried in order after any source-specific formats. Layouts without
// a clock component are reported as date-only.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 3:04 PM",
	"01/02/2006 15:04",
	"1/2/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 3 PM",
	"January 2, 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"20060102",
}

var (
	isoDateInText   = regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	usDateInText    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
	monthDateInText = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept|Sep|Oct|Nov|Dec)\.?\s+(\d{1,2}),?\s+(20\d{2})\b`)
	// dateLabel matches everything up to the last label before a date.
	dateLabel       = regexp.MustCompile(`(?i)^.*\b(?:closing date|closing|deadline|due date|due|bid date|bids due|response date|responses due|posted date|posted|issue date|published)\s*:`)
	timeZoneSuffix  = regexp.MustCompile(`(?i)\s+(E[SD]T|C[SD]T|M[SD]T|P[SD]T|ET|local time)$`)
	trailingClock   = regexp.MustCompile(`(?i)\s*(at\s+)?\d{1,2}(:\d{2})?\s*(AM|PM)$`)
)

// parseDateRobust accepts the formats procurement portals commonly use.
// dateOnly reports that the text carried no time of day.
func parseDateRobust(text string, extraLayouts []string) (t time.Time, dateOnly bool, err error) {
	text = cleanDateString(text)
	if text == "" {
		return time.Time{}, false, fmt.Errorf("empty date")
	}

	for _, layout := range slices.Concat(extraLayouts, dateLayouts) {
		if parsed, perr := time.Parse(layout, text); perr == nil {
			return parsed.UTC(), !layoutHasClock(layout), nil
		}
	}

	// A date followed by a clock we could not read is still a usable date.
	if stripped := trailingClock.ReplaceAllString(text, ""); stripped != text {
		if parsed, only, perr := parseDateRobust(stripped, extraLayouts); perr == nil {
			return parsed, only, nil
		}
	}

	if parsed := parseDateWithRegex(text); !parsed.IsZero() {
		return parsed, true, nil
	}

	return time.Time{}, false, fmt.Errorf("unable to parse date: %s", text)
}

func layoutHasClock(layout string) bool {
	return strings.Contains(layout, "15") || strings.Contains(layout, "3:04") || strings.Contains(layout, "3 PM")
}

// toEndOfDay sets the time to 23:59:59.999999999 UTC
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

func toStartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// parseDateWithRegex finds a date embedded in surrounding text.
func parseDateWithRegex(text string) time.Time {
	if m := isoDateInText.FindString(text); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t
		}
	}

	if m := usDateInText.FindStringSubmatch(text); len(m) == 4 {
		if t, err := time.Parse("1/2/2006", fmt.Sprintf("%s/%s/%s", m[1], m[2], m[3])); err == nil {
			return t
		}
	}

	if m := monthDateInText.FindStringSubmatch(text); len(m) == 4 {
		month := strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
		if month == "Sept" {
			month = "Sep"
		}
		dateStr := fmt.Sprintf("%s %s %s", month, m[2], m[3])
		for _, layout := range []string{"January 2 2006", "Jan 2 2006"} {
			if t, err := time.Parse(layout, dateStr); err == nil {
				return t
			}
		}
	}

	return time.Time{}
}

// cleanDateString removes labels and time zone names that portals wrap
// around dates.
func cleanDateString(s string) string {
	s = normalizeSpace(s)
	s = dateLabel.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "a.m.", "AM")
	s = strings.ReplaceAll(s, "p.m.", "PM")
	s = strings.ReplaceAll(s, " am", " AM")
	s = strings.ReplaceAll(s, " pm", " PM")
	s = strings.TrimSpace(s)
	s = timeZoneSuffix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
