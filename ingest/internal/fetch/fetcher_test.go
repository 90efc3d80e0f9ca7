package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// noopValidator allows all URLs (for tests that don't test SSRF).
func noopValidator(context.Context, string) error { return nil }

func TestFetch_Success(t *testing.T) {
	// WHAT: Basic HTTP GET returns body and status.
	// WHY: Core fetcher functionality.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method: got %s", r.Method)
		}
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte("BEGIN:VCALENDAR"))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator})
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != 200 || string(res.Body) != "BEGIN:VCALENDAR" {
		t.Errorf("got %d %q", res.StatusCode, res.Body)
	}
	if res.ContentType != "text/calendar" {
		t.Errorf("content type: got %q", res.ContentType)
	}
}

func TestFetch_StatusError(t *testing.T) {
	// WHAT: Non-2xx responses surface the status code.
	// WHY: The RSS handler reports "RSS fetch failed (<status>)".
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator})
	res, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if StatusCode(err) != 503 || res.StatusCode != 503 {
		t.Errorf("status: got %d / %d", StatusCode(err), res.StatusCode)
	}
}

func TestFetch_BlockedURL(t *testing.T) {
	// WHAT: The validator runs before any request.
	// WHY: SSRF prevention on the initial URL.
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	f := New(Config{URLValidator: func(context.Context, string) error { return errors.New("private") }})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected blocked error")
	}
	if called {
		t.Error("server should not be reached")
	}
}

func TestFetch_RedirectRevalidated(t *testing.T) {
	// WHAT: A redirect to a blocked target is refused.
	// WHY: A public URL can bounce to an internal address.
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer target.Close()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/internal", http.StatusFound)
	}))
	defer origin.Close()

	validator := func(_ context.Context, u string) error {
		if strings.Contains(u, "/internal") {
			return errors.New("blocked")
		}
		return nil
	}
	f := New(Config{URLValidator: validator})
	if _, err := f.Fetch(context.Background(), origin.URL); err == nil {
		t.Fatal("expected redirect to be blocked")
	}
}

func TestFetchChecked_SkipsInitialCheckOnly(t *testing.T) {
	// WHAT: FetchChecked does not re-run the validator on the source URL but
	// still vets redirect hops, with the request context.
	// WHY: Sources are validated once per sync; a second DNS lookup per
	// fetch doubles resolver traffic.
	type ctxKey struct{}
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer target.Close()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/next", http.StatusFound)
	}))
	defer origin.Close()

	var checked []string
	var tagged int
	f := New(Config{URLValidator: func(ctx context.Context, u string) error {
		checked = append(checked, u)
		if ctx.Value(ctxKey{}) == "sync" {
			tagged++
		}
		return nil
	}})
	ctx := context.WithValue(context.Background(), ctxKey{}, "sync")
	res, err := f.FetchChecked(ctx, origin.URL)
	if err != nil || string(res.Body) != "ok" {
		t.Fatalf("fetch: %v", err)
	}
	if len(checked) != 1 || !strings.HasSuffix(checked[0], "/next") || tagged != 1 {
		t.Fatalf("validated %v (with request context: %d)", checked, tagged)
	}
}

func TestFetch_BodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator, MaxBytes: 10})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected body cap error")
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator, Timeout: 50 * time.Millisecond})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected timeout error")
	}
}
