package feed

import (
	"strings"
	"testing"
	"time"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">
  <channel>
    <title>SF Weekly Picks</title>
    <item>
      <guid>post-1</guid>
      <title>Week 1</title>
      <link>https://news.example.com/p/week-1</link>
      <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
    </item>
    <item>
      <guid>post-2</guid>
      <title>Week 2</title>
      <link>https://news.example.com/p/week-2</link>
      <atom:published>2026-03-09T10:00:00Z</atom:published>
      <atom:updated>2026-03-10T08:00:00Z</atom:updated>
    </item>
    <item>
      <title>Week 3</title>
      <link>https://news.example.com/p/week-3</link>
      <pubDate>Mon, 16 Mar 2026 10:00:00 GMT</pubDate>
    </item>
    <item>
      <guid>no-link</guid>
      <title>Sponsor</title>
      <link>mailto:ads@example.com</link>
    </item>
  </channel>
</rss>`

const atomSample = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Science Blog</title>
  <entry>
    <id>urn:uuid:abc-001</id>
    <title>Quantum</title>
    <link href="https://science.example.com/quantum" rel="alternate"/>
    <published>2026-02-24T08:00:00Z</published>
  </entry>
  <entry>
    <id>urn:uuid:abc-002</id>
    <title>Mars</title>
    <link href="https://science.example.com/mars"/>
    <updated>2026-02-23T12:00:00Z</updated>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	// WHAT: RSS items get ids, links and versions; linkless items are dropped.
	// WHY: The cursor keys on itemId and compares versions.
	items, err := Parse([]byte(rssSample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items: got %d, want 3", len(items))
	}
	// Newest first.
	if items[0].ItemID != "https://news.example.com/p/week-3" {
		t.Errorf("guid fallback: got %q", items[0].ItemID)
	}
	if items[1].ItemID != "post-2" || items[1].VersionISO != "2026-03-10T08:00:00.000Z" {
		t.Errorf("atom:updated: got %q %q", items[1].ItemID, items[1].VersionISO)
	}
	if !items[1].PublishedAt.Equal(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("atom:published: got %v", items[1].PublishedAt)
	}
	if items[2].VersionISO != "2026-03-02T10:00:00.000Z" {
		t.Errorf("pubDate version: got %q", items[2].VersionISO)
	}
}

func TestParseAtom(t *testing.T) {
	items, err := Parse([]byte(atomSample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items: got %d", len(items))
	}
	if items[0].Link != "https://science.example.com/quantum" || items[0].Title != "Quantum" {
		t.Errorf("first: %+v", items[0])
	}
	if items[1].VersionISO != "2026-02-23T12:00:00.000Z" {
		t.Errorf("updated-only entry: got %q", items[1].VersionISO)
	}
}

func TestParseRDF(t *testing.T) {
	// WHAT: RSS 1.0 items beside the channel are parsed, keyed by rdf:about.
	// WHY: Some newsletter platforms still publish RDF feeds.
	data := `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel rdf:about="https://news.example.com/"><title>Picks</title></channel>
  <item rdf:about="https://news.example.com/p/1">
    <title>Week 1</title>
    <link>https://news.example.com/p/1</link>
    <dc:date>2026-03-02T10:00:00Z</dc:date>
  </item>
</rdf:RDF>`
	items, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 1 || items[0].ItemID != "https://news.example.com/p/1" || items[0].VersionISO != "2026-03-02T10:00:00.000Z" {
		t.Fatalf("items: %+v", items)
	}
}

func TestSubMillisecondUpdateIsStable(t *testing.T) {
	// WHAT: An unchanged item with a sub-millisecond timestamp is not
	// re-selected once its version is in the cursor.
	// WHY: Cursor versions are millisecond strings; comparing against the
	// full-precision time re-extracts the same post on every sync.
	data := `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry><id>p1</id><title>Week 1</title>
    <link href="https://news.example.com/p/1"/>
    <updated>2026-03-10T08:00:00.123456Z</updated></entry>
</feed>`
	items, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	first := Select(items, State{}, 1, 3)
	if len(first) != 1 {
		t.Fatalf("first sync: %v", ids(first))
	}
	state := State{first[0].ItemID: first[0].VersionISO}
	if state["p1"] != "2026-03-10T08:00:00.123Z" {
		t.Fatalf("cursor: %q", state["p1"])
	}
	if again := Select(items, state, 1, 3); len(again) != 0 {
		t.Fatalf("unchanged item re-selected: %v", ids(again))
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "<html></html>", "<rss><channel><item>"} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func item(id string, updated time.Time) Item {
	return Item{
		ItemID:     id,
		Link:       "https://news.example.com/" + id,
		UpdatedAt:  updated,
		SortAt:     updated,
		VersionISO: updated.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func TestSelect_FirstSync(t *testing.T) {
	// WHAT: Without a cursor only the newest initial items are selected.
	// WHY: A new feed must not trigger extraction of its whole archive.
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []Item{
		item("b", base.Add(2*time.Hour)),
		item("a", base.Add(1*time.Hour)),
		item("c", base.Add(3*time.Hour)),
	}
	got := Select(items, State{}, 2, 3)
	if len(got) != 2 || got[0].ItemID != "b" || got[1].ItemID != "c" {
		t.Fatalf("got %+v", ids(got))
	}
}

func TestSelect_VersionAware(t *testing.T) {
	// WHAT: Unchanged items are skipped, advanced ones are re-selected.
	// WHY: Newsletters edit posts after publishing; re-extract only on change.
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := item("a", base)
	b := item("b", base.Add(time.Hour))
	state := State{"a": a.VersionISO, "b": b.VersionISO}

	if got := Select([]Item{a, b}, state, 1, 3); len(got) != 0 {
		t.Fatalf("unchanged: got %v", ids(got))
	}

	b2 := item("b", base.Add(5*time.Hour))
	got := Select([]Item{a, b2}, state, 1, 3)
	if len(got) != 1 || got[0].ItemID != "b" {
		t.Fatalf("advanced: got %v", ids(got))
	}

	c := item("c", base.Add(2*time.Hour))
	got = Select([]Item{a, b2, c}, state, 1, 3)
	if len(got) != 2 || got[0].ItemID != "c" || got[1].ItemID != "b" {
		t.Fatalf("new + advanced: got %v", ids(got))
	}
}

func TestSelect_MaxPerSync(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var items []Item
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, item(id, base.Add(time.Duration(i)*time.Hour)))
	}
	got := Select(items, State{"zzz": SeenMarker}, 1, 3)
	if len(got) != 3 || got[0].ItemID != "c" || got[2].ItemID != "e" {
		t.Fatalf("got %v", ids(got))
	}
}

func TestShouldSync_SeenMarker(t *testing.T) {
	// WHAT: An item marked seen without a version is never re-selected.
	// WHY: Unparseable versions cannot be compared, so they count as current.
	s := State{"a": SeenMarker}
	if s.ShouldSync(item("a", time.Now())) {
		t.Fatal("seen marker should block re-sync")
	}
	if !s.ShouldSync(item("b", time.Now())) {
		t.Fatal("unseen item should sync")
	}
}

func TestState_ParseAndSerialize(t *testing.T) {
	s := ParseState(`{"a":"2026-03-01T00:00:00.000Z"," b ":" __seen__ ","c":5,"":"x"}`, 500)
	if len(s) != 2 || s["b"] != SeenMarker {
		t.Fatalf("parsed: %v", s)
	}
	if got := ParseState("{not json", 500); len(got) != 0 {
		t.Fatalf("malformed: %v", got)
	}
	if got := (State{}).Serialize(500); got != "" {
		t.Fatalf("empty serialize: %q", got)
	}
	out := s.Serialize(500)
	if !strings.Contains(out, `"a":"2026-03-01T00:00:00.000Z"`) {
		t.Fatalf("serialize: %s", out)
	}
}

func TestState_Trim(t *testing.T) {
	// WHAT: Trimming keeps the newest versions.
	// WHY: The cursor is bounded; old posts fall out first.
	s := State{
		"old":   "2025-01-01T00:00:00.000Z",
		"mid":   "2026-01-01T00:00:00.000Z",
		"new":   "2026-06-01T00:00:00.000Z",
		"nover": SeenMarker,
	}
	got := s.Trim(2)
	if len(got) != 2 || got["new"] == "" || got["mid"] == "" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveState(t *testing.T) {
	fallback := map[string]string{"x": SeenMarker}
	if got := ResolveState("", fallback, 500); got["x"] != SeenMarker {
		t.Fatalf("fallback not used: %v", got)
	}
	if got := ResolveState(`{"y":"__seen__"}`, fallback, 500); got["y"] == "" || got["x"] != "" {
		t.Fatalf("primary not preferred: %v", got)
	}
}

func TestStateKey(t *testing.T) {
	if got := StateKey(" https://RSS.example.com/Feeds/x.xml/ "); got != "https://rss.example.com/feeds/x.xml" {
		t.Fatalf("got %q", got)
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ItemID
	}
	return out
}
