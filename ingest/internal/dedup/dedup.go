// Package dedup scores candidate records by completeness and keeps one
// survivor per identity.
package dedup

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// ScoreEvent counts the populated fields of ev.
func ScoreEvent(ev model.Event) int {
	score := 0
	for _, s := range []string{ev.Name, ev.Description, ev.StartDateTimeText, ev.StartDateISO,
		ev.LocationText, ev.Address, ev.GoogleMapsURL} {
		if s != "" {
			score++
		}
	}
	score += coordScore(ev.Lat) + coordScore(ev.Lng)
	return score
}

// ScoreSpot counts the populated fields of sp.
func ScoreSpot(sp model.Spot) int {
	score := 0
	for _, s := range []string{sp.Name, sp.Location, sp.MapLink, sp.CornerLink, sp.Description, sp.Details} {
		if model.CleanText(s) != "" {
			score++
		}
	}
	score += coordScore(sp.Lat) + coordScore(sp.Lng)
	return score
}

func coordScore(f *float64) int {
	if f != nil && model.ValidPoint(f, f) {
		return 1
	}
	return 0
}

const undatedSortKey = "9999-99-99"

// DedupeEvents keeps the highest-scoring event per EventURL (first seen
// wins ties) and sorts by StartDateISO with undated events last.
func DedupeEvents(events []model.Event) []model.Event {
	index := make(map[string]int, len(events))
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		i, ok := index[ev.EventURL]
		if !ok {
			index[ev.EventURL] = len(out)
			out = append(out, ev)
			continue
		}
		if ScoreEvent(ev) > ScoreEvent(out[i]) {
			out[i] = ev
		}
	}
	slices.SortStableFunc(out, func(a, b model.Event) int {
		return strings.Compare(dateKey(a.StartDateISO), dateKey(b.StartDateISO))
	})
	return out
}

func dateKey(s string) string {
	if s == "" {
		return undatedSortKey
	}
	return s
}

// SpotKey is the dedup identity of a spot: the lowercased corner link, else
// "name|location" lowercased.
func SpotKey(cornerLink, name, location string) string {
	if link := model.CleanText(cornerLink); link != "" {
		return strings.ToLower(link)
	}
	return strings.ToLower(model.CleanText(name)) + "|" + strings.ToLower(model.CleanText(location))
}

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.English)
)

func compareText(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

// DedupeSpots keeps the highest-scoring spot per SpotKey and sorts by
// "tag|name".
func DedupeSpots(spots []model.Spot) []model.Spot {
	index := make(map[string]int, len(spots))
	out := make([]model.Spot, 0, len(spots))
	for _, sp := range spots {
		key := SpotKey(sp.CornerLink, sp.Name, sp.Location)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, sp)
			continue
		}
		if ScoreSpot(sp) > ScoreSpot(out[i]) {
			out[i] = sp
		}
	}
	slices.SortStableFunc(out, func(a, b model.Spot) int {
		return compareText(a.Tag+"|"+a.Name, b.Tag+"|"+b.Name)
	})
	return out
}

var tagRules = []struct {
	re  *regexp.Regexp
	tag string
}{
	{regexp.MustCompile(`(coffee|cafe|espresso|matcha|tea|bakery)`), model.TagCafes},
	{regexp.MustCompile(`(bar|cocktail|wine|pub|brewery)`), model.TagBar},
	{regexp.MustCompile(`(shop|store|boutique|retail|market)`), model.TagShops},
	{regexp.MustCompile(`(club|night|party|dance|music venue|late night)`), model.TagGoOut},
}

// InferTag returns tag when it is a known spot tag, else the first keyword
// rule matching tag and hint. The default is "eat".
func InferTag(tag, hint string) string {
	value := strings.ToLower(model.CleanText(tag))
	if slices.Contains(model.SpotTags, value) {
		return value
	}
	haystack := value + " " + strings.ToLower(model.CleanText(hint))
	for _, r := range tagRules {
		if r.re.MatchString(haystack) {
			return r.tag
		}
	}
	return model.TagEat
}

// NormalizeMapLink keeps an http(s) link, else builds a search link for
// location.
func NormalizeMapLink(raw, location string) string {
	link := model.CleanText(raw)
	if model.IsHTTPURL(link) {
		return link
	}
	return model.GoogleSearchLink(location)
}

// NormalizeSpots turns extracted places into spots attributed to src.
// Places without a name or location are dropped, as are repeated keys.
func NormalizeSpots(raw []model.RawPlace, src model.Source) []model.Spot {
	seen := make(map[string]bool, len(raw))
	out := make([]model.Spot, 0, len(raw))
	for _, p := range raw {
		name := model.CleanText(p.Name)
		location := model.CleanText(p.Location)
		if name == "" || location == "" {
			continue
		}
		corner := model.CleanText(p.CornerLink)
		key := SpotKey(corner, name, location)
		if seen[key] {
			continue
		}
		seen[key] = true

		sp := model.Spot{
			ID:             model.SpotIDFromKey(key),
			Name:           name,
			Tag:            InferTag(p.Tag, name+" "+p.ShortDescription+" "+p.Details),
			Location:       location,
			MapLink:        NormalizeMapLink(p.MapLink, location),
			CornerLink:     corner,
			CuratorComment: model.CleanText(p.CuratorComment),
			Description:    model.CleanText(p.ShortDescription),
			Details:        model.CleanText(p.Details),
			SourceID:       src.ID,
			SourceURL:      src.URL,
		}
		scored := model.Spot{Name: sp.Name, Location: sp.Location, MapLink: sp.MapLink,
			CornerLink: sp.CornerLink, Description: sp.Description}
		sp.Confidence = 0.7
		if ScoreSpot(scored) >= 4 {
			sp.Confidence = 1
		}
		out = append(out, sp)
	}
	return out
}
