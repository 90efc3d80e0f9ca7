package ical

import (
	"strings"
	"testing"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

var src = model.Source{ID: "src-1", Type: model.SourceEvent, URL: "https://api2.luma.com/ics/get?entity=calendar&id=abc"}

const calendar = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:e1\r\n" +
	"DTSTAMP:20260301T000000Z\r\n" +
	"DTSTART:20260308T030000Z\r\n" +
	"SUMMARY:  Founders   Dinner \r\n" +
	"LOCATION:https://luma.com/e1?utm_source=x\r\n" +
	"DESCRIPTION:Bring a friend\\, and snacks.\r\n" +
	"GEO:37.7749;-122.4194\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:e2\r\n" +
	"DTSTAMP:20260301T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20260310\r\n" +
	"SUMMARY:Street Fair\r\n" +
	"LOCATION:Valencia St\\, San Francisco\r\n" +
	"URL:https://example.com/fair/\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:e3\r\n" +
	"DTSTAMP:20260301T000000Z\r\n" +
	"DTSTART:20260311T180000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VTODO\r\n" +
	"UID:t1\r\n" +
	"SUMMARY:not an event\r\n" +
	"END:VTODO\r\n" +
	"END:VCALENDAR\r\n"

func TestParse(t *testing.T) {
	// WHAT: VEVENTs become candidates; summary-less events and VTODOs are skipped.
	// WHY: Calendar feeds are untrusted and mix component types.
	events, err := Parse([]byte(calendar), src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events: got %d, want 2", len(events))
	}

	e := events[0]
	if e.ID != "e1" || e.Name != "Founders Dinner" {
		t.Errorf("identity: %q %q", e.ID, e.Name)
	}
	if e.EventURL != "https://luma.com/e1" || e.LocationText != "" {
		t.Errorf("location url fallback: url=%q location=%q", e.EventURL, e.LocationText)
	}
	// 03:00Z on the 8th is 7 PM on the 7th in Los Angeles.
	if e.StartDateISO != "2026-03-08" {
		t.Errorf("startDateISO: got %q", e.StartDateISO)
	}
	if e.StartDateTimeText != "Saturday, March 7, 2026 at 7:00 PM" {
		t.Errorf("startDateTimeText: got %q", e.StartDateTimeText)
	}
	if e.Description != "Bring a friend, and snacks." {
		t.Errorf("description: got %q", e.Description)
	}
	if !e.HasCoordinates() || *e.Lat != 37.7749 || *e.Lng != -122.4194 {
		t.Errorf("geo: %v %v", e.Lat, e.Lng)
	}
	if e.Confidence != 1 || e.SourceID != "src-1" || e.SourceURL != src.URL {
		t.Errorf("provenance: %+v", e)
	}

	f := events[1]
	if f.EventURL != "https://example.com/fair" || f.LocationText != "Valencia St, San Francisco" {
		t.Errorf("url/location: %q %q", f.EventURL, f.LocationText)
	}
	if f.StartDateISO != "2026-03-10" || f.StartDateTimeText != "Tuesday, March 10, 2026" {
		t.Errorf("all-day: %q %q", f.StartDateISO, f.StartDateTimeText)
	}
	if f.HasCoordinates() {
		t.Error("no GEO should leave coordinates unset")
	}
}

func TestParse_DescriptionTruncated(t *testing.T) {
	long := strings.Repeat("a", 800)
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:x\r\nDTSTAMP:20260301T000000Z\r\nSUMMARY:Long\r\n" +
		"DESCRIPTION:" + long + "\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	events, err := Parse([]byte(body), src)
	if err != nil || len(events) != 1 {
		t.Fatalf("parse: %v %d", err, len(events))
	}
	if n := len(events[0].Description); n != 500 {
		t.Fatalf("description length %d", n)
	}
	if events[0].ID != "x" || events[0].StartDateISO != "" {
		t.Fatalf("event: %+v", events[0])
	}
}

func TestParse_IDFallback(t *testing.T) {
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//EN\r\n" +
		"BEGIN:VEVENT\r\nDTSTAMP:20260301T000000Z\r\nSUMMARY:Nameless Link\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	events, err := Parse([]byte(body), src)
	if err != nil || len(events) != 1 {
		t.Fatalf("parse: %v %d", err, len(events))
	}
	if events[0].ID != "ical-Nameless Link" {
		t.Fatalf("id: %q", events[0].ID)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse(nil, src); err == nil {
		t.Fatal("expected error on empty body")
	}
}
