package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/tripsync/horosafe"
	"github.com/hazyhaar/tripsync/ingest/internal/fetch"
	"github.com/hazyhaar/tripsync/ingest/internal/feed"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

const calendar = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:e1\r\n" +
	"DTSTAMP:20260301T000000Z\r\n" +
	"DTSTART:20260308T030000Z\r\n" +
	"SUMMARY:Founders Dinner\r\n" +
	"LOCATION:https://luma.com/e1?utm_source=x\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const newsletter = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <item><guid>p1</guid><title>Week 1</title><link>https://news.example.com/p/1</link>
    <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate></item>
  <item><guid>p2</guid><title>Week 2</title><link>https://news.example.com/p/2</link>
    <pubDate>Mon, 09 Mar 2026 10:00:00 GMT</pubDate></item>
</channel></rss>`

func allowAll(_ context.Context, url string) horosafe.Result {
	return horosafe.Result{OK: true, CanonicalURL: url}
}

type fakeExtractor struct {
	enabled bool
	calls   []string
	fail    map[string]bool
	data    string
}

func (f *fakeExtractor) Enabled() bool { return f.enabled }

func (f *fakeExtractor) Extract(_ context.Context, urls []string, _ string, _ any) (json.RawMessage, error) {
	f.calls = append(f.calls, urls[0])
	if f.fail[urls[0]] {
		return nil, errors.New("Firecrawl extract polling timed out.")
	}
	return json.RawMessage(f.data), nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cal.ics", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(calendar)) })
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(newsletter)) })
	mux.HandleFunc("/missing.ics", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	mux.HandleFunc("/gone/rss", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusGone) })
	mux.HandleFunc("/slow.ics", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(ex Extractor, timeout time.Duration) *Pipeline {
	f := fetch.New(fetch.Config{URLValidator: func(context.Context, string) error { return nil }, Timeout: timeout})
	return New(f, WithExtractor(ex), WithValidator(allowAll))
}

func TestSyncEventSource_ICS(t *testing.T) {
	srv := newServer(t)
	p := newPipeline(nil, 5*time.Second)
	src := model.Source{ID: "s1", Type: model.SourceEvent, URL: srv.URL + "/cal.ics"}

	res := p.SyncEventSource(context.Background(), src, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("errors: %+v", res.Errors)
	}
	if len(res.Events) != 1 || res.Events[0].EventURL != "https://luma.com/e1" {
		t.Fatalf("events: %+v", res.Events)
	}
	if res.State != nil {
		t.Fatal("calendar source should not carry a cursor")
	}
}

func TestSyncEventSource_Failures(t *testing.T) {
	// WHAT: Validation, HTTP status and timeouts each become one staged
	// error.
	// WHY: A failing source must be reported without aborting the run.
	srv := newServer(t)
	p := newPipeline(nil, 200*time.Millisecond)
	ctx := context.Background()

	res := p.SyncEventSource(ctx, model.Source{ID: "s", URL: srv.URL + "/missing.ics"}, nil)
	if len(res.Errors) != 1 || res.Errors[0].Stage != model.StageICal || res.Errors[0].Message != "iCal fetch failed (404)." {
		t.Fatalf("404: %+v", res.Errors)
	}

	res = p.SyncEventSource(ctx, model.Source{ID: "s", URL: srv.URL + "/slow.ics"}, nil)
	if len(res.Errors) != 1 || res.Errors[0].Stage != model.StageICal {
		t.Fatalf("timeout: %+v", res.Errors)
	}

	strict := New(fetch.New(fetch.Config{}))
	res = strict.SyncEventSource(ctx, model.Source{ID: "s", URL: "http://127.0.0.1/cal.ics"}, nil)
	if len(res.Errors) != 1 || res.Errors[0].Stage != model.StageSourceValidation ||
		res.Errors[0].Message != horosafe.MsgPrivate {
		t.Fatalf("validation: %+v", res.Errors)
	}
}

func TestRSS_MissingKey(t *testing.T) {
	// WHAT: Without an extraction key exactly one firecrawl error is
	// reported and the feed is not fetched.
	// WHY: Fetching a feed whose posts cannot be extracted wastes the
	// upstream quota.
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()
	p := newPipeline(&fakeExtractor{}, time.Second)

	prior := feed.State{"p0": "2026-01-01T00:00:00.000Z"}
	res := p.SyncEventSource(context.Background(), model.Source{ID: "s", URL: srv.URL + "/feed.xml"}, prior)
	if len(res.Errors) != 1 || res.Errors[0].Stage != model.StageFirecrawl || res.Errors[0].Message != MsgMissingRSSKey {
		t.Fatalf("errors: %+v", res.Errors)
	}
	if hits != 0 {
		t.Fatalf("feed fetched %d times", hits)
	}
	if res.State["p0"] == "" {
		t.Fatal("prior cursor lost")
	}
}

func TestRSS_SelectsAndAdvances(t *testing.T) {
	// WHAT: First sync extracts only the newest post and records its
	// version; the next sync picks up nothing new.
	// WHY: Re-extracting every post on every sync is billed per page.
	srv := newServer(t)
	ex := &fakeExtractor{enabled: true, data: `{"events":[{"name":"Party","eventUrl":"https://luma.com/party?utm_source=nl","startDateTimeText":"Saturday, March 14, 2026 at 8:00 PM"}]}`}
	p := newPipeline(ex, 5*time.Second)
	src := model.Source{ID: "s", Type: model.SourceEvent, URL: srv.URL + "/feed.xml"}

	res := p.SyncEventSource(context.Background(), src, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("errors: %+v", res.Errors)
	}
	if len(ex.calls) != 1 || ex.calls[0] != "https://news.example.com/p/2" {
		t.Fatalf("extracted: %v", ex.calls)
	}
	if len(res.Events) != 1 || res.Events[0].EventURL != "https://luma.com/party" || res.Events[0].StartDateISO != "2026-03-14" {
		t.Fatalf("events: %+v", res.Events)
	}
	if res.Events[0].Description != "Week 2" {
		t.Fatalf("description fallback: %q", res.Events[0].Description)
	}
	if res.State["p2"] != "2026-03-09T10:00:00.000Z" {
		t.Fatalf("state: %v", res.State)
	}

	// The older post is unseen once a cursor exists.
	res = p.SyncEventSource(context.Background(), src, res.State)
	if len(ex.calls) != 2 || ex.calls[1] != "https://news.example.com/p/1" {
		t.Fatalf("second sync: %v", ex.calls)
	}
	res = p.SyncEventSource(context.Background(), src, res.State)
	if len(ex.calls) != 2 || len(res.Events) != 0 {
		t.Fatalf("third sync re-extracted: %v", ex.calls)
	}
}

func TestRSS_ItemErrors(t *testing.T) {
	srv := newServer(t)
	ex := &fakeExtractor{enabled: true, data: `{"events":[]}`, fail: map[string]bool{"https://news.example.com/p/2": true}}
	p := newPipeline(ex, 5*time.Second)
	p.rss.InitialItems = 2
	src := model.Source{ID: "s", URL: srv.URL + "/feed.xml"}

	res := p.SyncEventSource(context.Background(), src, nil)
	if len(res.Errors) != 1 || res.Errors[0].Stage != model.StageFirecrawl || res.Errors[0].EventURL != "https://news.example.com/p/2" {
		t.Fatalf("errors: %+v", res.Errors)
	}
	if _, ok := res.State["p2"]; ok {
		t.Fatal("failed item should not advance the cursor")
	}
	if _, ok := res.State["p1"]; !ok {
		t.Fatal("extracted item missing from cursor")
	}
}

func TestRSS_StatusError(t *testing.T) {
	srv := newServer(t)
	p := newPipeline(&fakeExtractor{enabled: true}, time.Second)
	res := p.SyncEventSource(context.Background(), model.Source{ID: "s", URL: srv.URL + "/gone/rss"}, nil)
	if len(res.Errors) != 1 || res.Errors[0].Stage != model.StageRSS || res.Errors[0].Message != "RSS fetch failed (410)." {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestSyncSpotSource(t *testing.T) {
	ex := &fakeExtractor{enabled: true, data: `{"places":[
		{"name":"Tartine","location":"600 Guerrero St","shortDescription":"bakery"},
		{"name":"No location"}]}`}
	p := newPipeline(ex, time.Second)
	src := model.Source{ID: "sp", Type: model.SourceSpot, URL: "https://www.corner.inc/list/x"}

	res := p.SyncSpotSource(context.Background(), src)
	if len(res.Errors) != 0 || len(res.Spots) != 1 || res.Spots[0].Tag != model.TagCafes {
		t.Fatalf("result: %+v", res)
	}

}

func TestSyncSpotSource_ExtractionDisabled(t *testing.T) {
	// WHAT: A spot source without an extraction key yields no spots and no
	// errors, and nothing is validated or extracted.
	// WHY: The built-in spot list is always configured; a keyless deploy
	// would otherwise end every run partially failed.
	ex := &fakeExtractor{}
	validated := 0
	p := New(fetch.New(fetch.Config{Timeout: time.Second}),
		WithExtractor(ex),
		WithValidator(func(ctx context.Context, url string) horosafe.Result {
			validated++
			return allowAll(ctx, url)
		}))
	res := p.SyncSpotSource(context.Background(), model.Source{ID: "sp", Type: model.SourceSpot, URL: "https://www.corner.inc/list/x"})
	if len(res.Errors) != 0 || len(res.Spots) != 0 {
		t.Fatalf("result: %+v", res)
	}
	if validated != 0 || len(ex.calls) != 0 {
		t.Fatalf("validated %d, extracted %d", validated, len(ex.calls))
	}
}

func TestKind(t *testing.T) {
	if Kind("https://news.example.com/feed.xml") != "rss" || Kind("https://api2.luma.com/ics/get?id=1") != "ics" {
		t.Fatal("kind detection")
	}
}
