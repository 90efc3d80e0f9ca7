package observability

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveSync("completed", 2*time.Second, 12, 4)
	m.ObserveSync("partially_failed", time.Second, 10, 4)
	m.IngestionError("ical")
	m.IngestionError("ical")
	m.RateLimited("geocode")

	out := scrape(t, m)
	for _, want := range []string{
		`tripsync_sync_runs_total{state="completed"} 1`,
		`tripsync_sync_runs_total{state="partially_failed"} 1`,
		`tripsync_ingestion_errors_total{stage="ical"} 2`,
		`tripsync_rate_limited_total{rule="geocode"} 1`,
		`tripsync_events_synced 10`,
		`tripsync_spots_synced 4`,
		`tripsync_sync_duration_seconds_count 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	// WHAT: A nil *Metrics accepts every call.
	// WHY: Tests and embedders construct a Service without metrics.
	var m *Metrics
	m.ObserveSync("completed", time.Second, 1, 1)
	m.IngestionError("rss")
	m.RateLimited("route")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler status = %d", rec.Code)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn", "json")
	l.Info("dropped")
	l.Warn("sync: source failed", "source_id", "s1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "sync: source failed" || rec["source_id"] != "s1" {
		t.Fatalf("record = %v", rec)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "debug", "TEXT").Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("text output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
