package model

import (
	"regexp"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// CleanText collapses every whitespace run to one space and trims the ends.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func lower(s string) string { return strings.ToLower(s) }

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

var (
	markupRe  = regexp.MustCompile(`<\s*[a-zA-Z/!][^>]*>`)
	nonWordRe = regexp.MustCompile(`[^\w]+`)
	schemeRe  = regexp.MustCompile(`^https?://`)
)

var (
	mdOnce      sync.Once
	mdConverter *converter.Converter
	ugcPolicy   *bluemonday.Policy
	stripPolicy *bluemonday.Policy
)

func initMarkdown() {
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	ugcPolicy = bluemonday.UGCPolicy()
	stripPolicy = bluemonday.StrictPolicy()
}

// DescriptionText turns a feed or extraction description into plain
// one-line text. Markup is sanitized and rendered as markdown so links and
// emphasis survive; anything that fails conversion is stripped to text.
func DescriptionText(raw string) string {
	if !markupRe.MatchString(raw) {
		return CleanText(raw)
	}
	mdOnce.Do(initMarkdown)

	safe := ugcPolicy.Sanitize(raw)
	md, err := mdConverter.ConvertString(safe)
	if err != nil || strings.TrimSpace(md) == "" {
		return CleanText(stripPolicy.Sanitize(raw))
	}
	return CleanText(md)
}

// Slug lowercases s, drops a leading http(s) scheme, replaces non-word runs
// with '-' and cuts the result to max bytes.
func Slug(s string, max int) string {
	v := schemeRe.ReplaceAllString(lower(CleanText(s)), "")
	v = strings.Trim(nonWordRe.ReplaceAllString(v, "-"), "-")
	if len(v) > max {
		v = v[:max]
	}
	return v
}

// EventIDFromURL derives a stable event id from its canonical URL.
func EventIDFromURL(eventURL string) string {
	if s := Slug(eventURL, 96); s != "" {
		return "evt-" + s
	}
	return "evt-unknown"
}

// SpotIDFromKey derives a stable spot id from its dedup key.
func SpotIDFromKey(key string) string {
	if s := Slug(key, 80); s != "" {
		return "spot-" + s
	}
	return "spot-unknown"
}
