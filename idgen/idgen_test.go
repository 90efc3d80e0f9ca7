package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_FormatAndUniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := gen()
		if len(id) != 36 || len(strings.Split(id, "-")) != 5 {
			t.Fatalf("UUIDv7: bad format %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("UUIDv7: duplicate at iteration %d", i)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	// WHAT: Later ids sort after earlier ones.
	// WHY: Source listings order by id as a creation-time tiebreak.
	gen := UUIDv7()
	a := gen()
	b := gen()
	if b < a {
		t.Fatalf("UUIDv7 not monotonic: %q then %q", a, b)
	}
}

func TestNanoID(t *testing.T) {
	id := NanoID(100)()
	if len(id) != 100 {
		t.Fatalf("length %d", len(id))
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("unexpected character %q in %q", c, id)
		}
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("src-", NanoID(8))()
	if !strings.HasPrefix(id, "src-") || len(id) != 12 {
		t.Fatalf("got %q", id)
	}
}

func TestShort(t *testing.T) {
	if got := Short(); len(got) != 8 {
		t.Fatalf("Short() = %q", got)
	}
}
