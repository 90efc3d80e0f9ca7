package extract

import (
	"encoding/json"
	"strings"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// EventPrompt asks for event listings in a newsletter post.
var EventPrompt = strings.Join([]string{
	"Extract upcoming event listings from this newsletter post.",
	"Return one item per event with fields:",
	"name, eventUrl, startDateISO (YYYY-MM-DD when available), startDateTimeText,",
	"locationText, address, description, googleMapsUrl.",
	"Only include actual event listings. Exclude ads, sponsors, subscribe links, and social links.",
}, " ")

// PlacePrompt asks for the places of a curated list.
var PlacePrompt = strings.Join([]string{
	"Extract all places in this specific Corner list.",
	"For each place include: name, tag (eat/bar/cafes/go out/shops if inferable),",
	"location text, direct place URL, best map URL if shown,",
	"curatorComment (the curator note/comment for this place in this list if present),",
	"shortDescription, and any important details.",
}, " ")

// EventSchema is the JSON schema sent with EventPrompt.
var EventSchema = arraySchema("events",
	"name", "eventUrl", "startDateISO", "startDateTimeText",
	"locationText", "address", "description", "googleMapsUrl")

// PlaceSchema is the JSON schema sent with PlacePrompt.
var PlaceSchema = arraySchema("places",
	"name", "tag", "location", "mapLink", "cornerLink",
	"curatorComment", "shortDescription", "details")

func arraySchema(key string, fields ...string) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			key: map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"properties": props,
				},
			},
		},
	}
}

// text accepts JSON strings only; any other JSON value decodes to "".
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*t = ""
		return nil
	}
	*t = text(s)
	return nil
}

func (t text) clean() string { return model.CleanText(string(t)) }

type rawEvent struct {
	Name              text `json:"name"`
	EventURL          text `json:"eventUrl"`
	URL               text `json:"url"`
	StartDateISO      text `json:"startDateISO"`
	StartDateTimeText text `json:"startDateTimeText"`
	LocationText      text `json:"locationText"`
	Address           text `json:"address"`
	Description       text `json:"description"`
	GoogleMapsURL     text `json:"googleMapsUrl"`
}

// lenientList decodes an array of objects and skips any element that is not
// an object.
func lenientList[T any](data json.RawMessage, key string) []T {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(envelope[key], &elems); err != nil {
		return nil
	}
	out := make([]T, 0, len(elems))
	for _, e := range elems {
		var v T
		if err := json.Unmarshal(e, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// NormalizeEvents turns extraction data into event candidates. Entries
// without a name or an http(s) eventUrl are dropped. itemTitle backs an
// empty description.
func NormalizeEvents(data json.RawMessage, src model.Source, itemTitle string) []model.Event {
	var out []model.Event
	for _, r := range lenientList[rawEvent](data, "events") {
		rawURL := r.EventURL.clean()
		if rawURL == "" {
			rawURL = r.URL.clean()
		}
		eventURL := model.CanonicalizeEventURL(rawURL)
		name := r.Name.clean()
		if name == "" || !model.IsHTTPURL(eventURL) {
			continue
		}

		dateText := r.StartDateTimeText.clean()
		dateISO := model.NormalizeStartDateISO(r.StartDateISO.clean())
		if dateISO == "" {
			dateISO = model.InferDateISO(dateText)
		}
		description := model.DescriptionText(string(r.Description))
		if description == "" {
			description = model.CleanText(itemTitle)
		}
		mapsURL := r.GoogleMapsURL.clean()

		ev := model.Event{
			ID:                model.EventIDFromURL(eventURL),
			Name:              name,
			Description:       description,
			EventURL:          eventURL,
			StartDateTimeText: dateText,
			StartDateISO:      dateISO,
			LocationText:      r.LocationText.clean(),
			Address:           r.Address.clean(),
			GoogleMapsURL:     mapsURL,
			SourceID:          src.ID,
			SourceURL:         src.URL,
			Confidence:        1,
		}
		if c, ok := model.PointFromMapURL(mapsURL); ok {
			ev.Lat, ev.Lng = c.Point()
		}
		out = append(out, ev)
	}
	return out
}

type rawPlace struct {
	Name             text `json:"name"`
	Tag              text `json:"tag"`
	Location         text `json:"location"`
	MapLink          text `json:"mapLink"`
	CornerLink       text `json:"cornerLink"`
	CuratorComment   text `json:"curatorComment"`
	ShortDescription text `json:"shortDescription"`
	Details          text `json:"details"`
}

// ParsePlaces decodes extraction data into raw places with cleaned fields.
func ParsePlaces(data json.RawMessage) []model.RawPlace {
	raws := lenientList[rawPlace](data, "places")
	out := make([]model.RawPlace, 0, len(raws))
	for _, r := range raws {
		out = append(out, model.RawPlace{
			Name:             r.Name.clean(),
			Tag:              r.Tag.clean(),
			Location:         r.Location.clean(),
			MapLink:          r.MapLink.clean(),
			CornerLink:       r.CornerLink.clean(),
			CuratorComment:   r.CuratorComment.clean(),
			ShortDescription: r.ShortDescription.clean(),
			Details:          r.Details.clean(),
		})
	}
	return out
}
