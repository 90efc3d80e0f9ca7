package model

import (
	"math"
	"strings"
	"testing"
)

func TestCanonicalizeEventURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://luma.com/e1?utm_source=x&fbclid=y#frag", "https://luma.com/e1"},
		{"https://luma.com/e1/", "https://luma.com/e1"},
		{"https://LUMA.com/e1?ref=abc&gclid=1", "https://luma.com/e1?ref=abc"},
		{"  https://luma.com/e1  ", "https://luma.com/e1"},
		{"https://luma.com/", "https://luma.com"},
		{"not a url", "not a url"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalizeEventURL(tt.in); got != tt.want {
			t.Errorf("CanonicalizeEventURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalizeEventURL_Idempotent(t *testing.T) {
	// WHAT: Canonicalizing twice gives the same result as once.
	// WHY: Stored eventUrls are canonicalized again on every run; a drifting
	// key would make reconcile treat the same event as gone.
	inputs := []string{
		"https://luma.com/e1?utm_source=x&fbclid=y#frag",
		"https://luma.com/e1//",
		"https://example.com/a/?b=2&a=1&utm_campaign=z",
		"https://example.com/p?next=/",
		"http://Example.com",
	}
	for _, in := range inputs {
		once := CanonicalizeEventURL(in)
		twice := CanonicalizeEventURL(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeAddressKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  123 Main St.,   San Francisco, CA!! ", "123 main st., san francisco, ca"},
		{"Pier 39 (Embarcadero)", "pier 39 embarcadero"},
		{"a\t\tb\nc", "a b c"},
		{"", ""},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAddressKey(tt.in); got != tt.want {
			t.Errorf("NormalizeAddressKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeAddressKey_SameAddress(t *testing.T) {
	// WHAT: Differently punctuated spellings share one cache key.
	// WHY: Each distinct key costs a geocoding call.
	a := NormalizeAddressKey("  123 Main St., Apt #4!  ")
	b := NormalizeAddressKey("123  MAIN st., apt 4")
	if a != "123 main st., apt 4" || a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
}

func TestLooksLikeRSS(t *testing.T) {
	for _, u := range []string{
		"https://rss.beehiiv.com/feeds/9B98D9gG4C.xml",
		"https://example.com/RSS",
		"https://example.com/blog/feed.xml",
	} {
		if !LooksLikeRSS(u) {
			t.Errorf("LooksLikeRSS(%q) = false, want true", u)
		}
	}
	for _, u := range []string{
		"https://api2.luma.com/ics/get?entity=calendar&id=abc",
		"",
	} {
		if LooksLikeRSS(u) {
			t.Errorf("LooksLikeRSS(%q) = true, want false", u)
		}
	}
}

func TestPointFromMapURL(t *testing.T) {
	c, ok := PointFromMapURL("https://www.google.com/maps/search/?api=1&query=37.7749,-122.4194")
	if !ok || c.Lat != 37.7749 || c.Lng != -122.4194 {
		t.Fatalf("got %+v, %v", c, ok)
	}
	for _, u := range []string{
		"",
		"https://www.google.com/maps/search/?api=1&query=Ferry+Building",
		"https://www.google.com/maps/search/?api=1&query=1,2,3",
		"https://www.google.com/maps/search/?api=1&query=NaN,1",
	} {
		if _, ok := PointFromMapURL(u); ok {
			t.Errorf("PointFromMapURL(%q) ok = true, want false", u)
		}
	}
}

func TestGoogleSearchLink(t *testing.T) {
	got := GoogleSearchLink("Mission St & 5th")
	want := "https://www.google.com/maps/search/?api=1&query=Mission%20St%20%26%205th"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestValidPoint(t *testing.T) {
	one, nan := 1.0, math.NaN()
	if !ValidPoint(&one, &one) {
		t.Fatal("finite pair rejected")
	}
	if ValidPoint(&one, nil) || ValidPoint(&nan, &one) {
		t.Fatal("invalid pair accepted")
	}
}

func TestSlugAndIDs(t *testing.T) {
	if got := EventIDFromURL("https://luma.com/e1"); got != "evt-luma-com-e1" {
		t.Errorf("EventIDFromURL = %q", got)
	}
	if got := SpotIDFromKey("Tartine|600 Guerrero St"); got != "spot-tartine-600-guerrero-st" {
		t.Errorf("SpotIDFromKey = %q", got)
	}
	if got := SpotIDFromKey("***"); got != "spot-unknown" {
		t.Errorf("SpotIDFromKey(empty slug) = %q", got)
	}
	long := "https://example.com/" + strings.Repeat("a", 200)
	if got := EventIDFromURL(long); len(got) != len("evt-")+96 {
		t.Errorf("EventIDFromURL length = %d", len(got))
	}
}

func TestInferDateISO(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Doors at 2026-04-01 downtown", "2026-04-01"},
		{"Saturday, March 7, 2026 at 7:00 PM", "2026-03-07"},
		{"March 7, 2026", "2026-03-07"},
		{"Mar 7th, 2026", "2026-03-07"},
		{"sometime soon", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := InferDateISO(tt.in); got != tt.want {
			t.Errorf("InferDateISO(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeStartDateISO(t *testing.T) {
	if got := NormalizeStartDateISO("2026-03-07T19:00:00Z"); got != "2026-03-07" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeStartDateISO("March 7"); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestDescriptionText(t *testing.T) {
	// WHAT: Markup is sanitized and flattened; plain text only collapses.
	// WHY: Feed descriptions arrive as HTML and must not carry scripts into
	// the payload.
	got := DescriptionText("<p>Hello <b>world</b></p><script>alert(1)</script>")
	if strings.Contains(got, "alert") || strings.Contains(got, "<") {
		t.Fatalf("unsafe output %q", got)
	}
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "world") {
		t.Fatalf("text lost: %q", got)
	}
	if got := DescriptionText("  a\n\n b  "); got != "a b" {
		t.Fatalf("plain: got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
