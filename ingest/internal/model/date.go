package model

import (
	"regexp"
	"strings"
	"time"
)

var (
	isoPrefixRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	isoInTextRe = regexp.MustCompile(`\b(20\d{2}-\d{2}-\d{2})\b`)
	ordinalRe   = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
)

// feedLayouts are tried in order for RSS/Atom dates and stored cursor
// versions.
var feedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// freeTextLayouts cover the date strings extraction returns in
// startDateTimeText.
var freeTextLayouts = []string{
	"Monday, January 2, 2006 at 3:04 PM",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006",
	"January 2, 2006 at 3:04 PM",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006 at 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"Mon, Jan 2, 2006",
	"2 January 2006",
}

// ParseDate parses s with the feed layouts. ok is false for empty or
// unparseable input.
func ParseDate(s string) (time.Time, bool) {
	v := CleanText(s)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range feedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeStartDateISO keeps a leading YYYY-MM-DD, or returns "".
func NormalizeStartDateISO(s string) string {
	m := isoPrefixRe.FindStringSubmatch(CleanText(s))
	if m == nil {
		return ""
	}
	return m[1] + "-" + m[2] + "-" + m[3]
}

// InferDateISO finds a date in free text: an embedded 20YY-MM-DD first,
// then the free-text and feed layouts.
func InferDateISO(text string) string {
	v := CleanText(text)
	if v == "" {
		return ""
	}
	if m := isoInTextRe.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	v = ordinalRe.ReplaceAllString(v, "$1")
	for _, layout := range freeTextLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if t, ok := ParseDate(v); ok {
		return t.UTC().Format("2006-01-02")
	}
	// "Saturday, March 7, 2026, 7:00 PM": retry on the date part alone.
	if i := strings.LastIndex(v, ","); i > 0 {
		return InferDateISO(strings.TrimSpace(v[:i]))
	}
	return ""
}
