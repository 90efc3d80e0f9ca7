// Package ical turns ICS calendar feeds into event candidates.
package ical

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	ics "github.com/arran4/golang-ical"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// DisplayZone is the zone startDateTimeText is rendered in.
const DisplayZone = "America/Los_Angeles"

const (
	textLayout       = "Monday, January 2, 2006 at 3:04 PM"
	allDayTextLayout = "Monday, January 2, 2006"
	maxDescription   = 500
)

var displayLoc = mustLoad(DisplayZone)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Parse decodes an ICS payload and returns one candidate per VEVENT with a
// summary. Other components are ignored.
func Parse(body []byte, src model.Source) ([]model.Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ical: empty body")
	}
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ical: parse: %w", err)
	}

	var out []model.Event
	for _, ve := range cal.Events() {
		if ev, ok := toEvent(ve, src); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func toEvent(ve *ics.VEvent, src model.Source) (model.Event, bool) {
	name := model.CleanText(text(ve, ics.ComponentPropertySummary))
	if name == "" {
		return model.Event{}, false
	}

	rawLocation := model.CleanText(text(ve, ics.ComponentPropertyLocation))
	locationIsURL := strings.HasPrefix(rawLocation, "https://") || strings.HasPrefix(rawLocation, "http://")
	locationText := rawLocation
	urlFallback := ""
	if locationIsURL {
		urlFallback = rawLocation
		locationText = ""
	}
	eventURL := model.CleanText(text(ve, ics.ComponentPropertyUrl))
	if eventURL == "" {
		eventURL = urlFallback
	}
	eventURL = model.CanonicalizeEventURL(eventURL)

	dateISO, dateText := startOf(ve)

	id := model.CleanText(ve.Id())
	if id == "" {
		id = eventURL
	}
	if id == "" {
		id = "ical-" + name
	}

	ev := model.Event{
		ID:                id,
		Name:              name,
		Description:       model.Truncate(model.DescriptionText(text(ve, ics.ComponentPropertyDescription)), maxDescription),
		EventURL:          eventURL,
		StartDateTimeText: dateText,
		StartDateISO:      dateISO,
		LocationText:      locationText,
		SourceID:          src.ID,
		SourceURL:         src.URL,
		Confidence:        1,
	}
	if c, ok := geo(ve); ok {
		ev.Lat, ev.Lng = c.Point()
	}
	return ev, true
}

// startOf returns the UTC start date and the display text. All-day events
// keep their calendar date and get no time of day.
func startOf(ve *ics.VEvent) (string, string) {
	prop := ve.GetProperty(ics.ComponentPropertyDtStart)
	if prop == nil {
		return "", ""
	}
	if isAllDay(prop) {
		t, err := ve.GetAllDayStartAt()
		if err != nil {
			return "", ""
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.Format("2006-01-02"), day.Format(allDayTextLayout)
	}
	t, err := ve.GetStartAt()
	if err != nil {
		return "", ""
	}
	return t.UTC().Format("2006-01-02"), t.In(displayLoc).Format(textLayout)
}

func isAllDay(p *ics.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// geo reads GEO:lat;lng.
func geo(ve *ics.VEvent) (model.Coordinates, bool) {
	p := ve.GetProperty(ics.ComponentPropertyGeo)
	if p == nil {
		return model.Coordinates{}, false
	}
	latS, lngS, ok := strings.Cut(p.Value, ";")
	if !ok {
		return model.Coordinates{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(lngS), 64)
	if err1 != nil || err2 != nil || !model.ValidPoint(&lat, &lng) {
		return model.Coordinates{}, false
	}
	return model.Coordinates{Lat: lat, Lng: lng}, true
}

// text returns a property value. The parser has already unescaped TEXT
// values.
func text(ve *ics.VEvent, prop ics.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return p.Value
}
