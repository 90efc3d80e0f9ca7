package feed

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// SeenMarker is stored for an item whose version could not be determined.
const SeenMarker = "__seen__"

// DefaultStateMaxItems bounds a source's cursor.
const DefaultStateMaxItems = 500

// State maps itemId to the last ingested versionISO for one source.
type State map[string]string

// StateKey is the per-source key used in the cache file.
func StateKey(sourceURL string) string { return model.ComparableURL(sourceURL) }

// ParseState decodes a stored cursor. Malformed JSON and non-string
// values are dropped.
func ParseState(raw string, max int) State {
	text := model.CleanText(raw)
	if text == "" {
		return State{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return State{}
	}
	s := make(State, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok {
			s[k] = str
		}
	}
	return s.Normalize(max)
}

// ResolveState prefers the source's own stored cursor and falls back to
// the copy kept in the local cache file.
func ResolveState(primaryJSON string, fallback map[string]string, max int) State {
	if s := ParseState(primaryJSON, max); len(s) > 0 {
		return s
	}
	return State(fallback).Normalize(max)
}

// Normalize cleans keys and values, drops empties and trims to max.
func (s State) Normalize(max int) State {
	next := make(State, len(s))
	for k, v := range s {
		id, ver := model.CleanText(k), model.CleanText(v)
		if id == "" || ver == "" {
			continue
		}
		next[id] = ver
	}
	return next.Trim(max)
}

// Trim keeps the max entries with the newest seen version. Unparseable
// versions rank as the epoch; ties break on itemId so the result is
// deterministic.
func (s State) Trim(max int) State {
	if max <= 0 {
		max = DefaultStateMaxItems
	}
	if len(s) <= max {
		out := make(State, len(s))
		for k, v := range s {
			out[k] = v
		}
		return out
	}

	type entry struct {
		id   string
		ver  string
		rank int64
	}
	entries := make([]entry, 0, len(s))
	for k, v := range s {
		var rank int64
		if t, ok := model.ParseDate(v); ok {
			rank = t.UnixMilli()
		}
		entries = append(entries, entry{k, v, rank})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rank != entries[j].rank {
			return entries[i].rank > entries[j].rank
		}
		return entries[i].id < entries[j].id
	})

	out := make(State, max)
	for _, e := range entries[:max] {
		out[e.id] = e.ver
	}
	return out
}

// Serialize encodes a normalized cursor, or "" when it is empty.
func (s State) Serialize(max int) string {
	n := s.Normalize(max)
	if len(n) == 0 {
		return ""
	}
	b, err := json.Marshal(map[string]string(n))
	if err != nil {
		return ""
	}
	return string(b)
}

// ShouldSync reports whether item needs extraction given s. Unseen items
// always sync; seen items sync only when their version is strictly newer
// than the stored one.
func (s State) ShouldSync(item Item) bool {
	seen := model.CleanText(s[item.ItemID])
	if seen == "" {
		return true
	}
	seenAt, ok := model.ParseDate(seen)
	if !ok {
		return false
	}
	return item.UpdatedAt.Truncate(time.Millisecond).After(seenAt)
}

// Select picks the items to extract this run. Without prior state only the
// newest initial items are taken; otherwise every item ShouldSync accepts,
// capped to the newest max.
func Select(items []Item, s State, initial, max int) []Item {
	if len(items) == 0 {
		return nil
	}
	if initial < 1 {
		initial = 1
	}
	if max < 1 {
		max = 1
	}

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortAt.Before(sorted[j].SortAt) })

	var picked []Item
	if len(s) == 0 {
		picked = lastN(sorted, initial)
	} else {
		for _, it := range sorted {
			if s.ShouldSync(it) {
				picked = append(picked, it)
			}
		}
	}
	if len(picked) == 0 {
		return nil
	}
	return lastN(picked, max)
}

func lastN(items []Item, n int) []Item {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
