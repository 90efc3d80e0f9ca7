// Package model holds the records that flow between the ingestion stages and
// the normalization helpers they share. JSON tags match the payload served
// to the trip UI and written to the local cache file.
package model

import "time"

// SourceType is the kind of records a source yields.
type SourceType string

const (
	SourceEvent SourceType = "event"
	SourceSpot  SourceType = "spot"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool { return t == SourceEvent || t == SourceSpot }

// SourceStatus gates whether a source takes part in sync runs.
type SourceStatus string

const (
	StatusActive SourceStatus = "active"
	StatusPaused SourceStatus = "paused"
)

// Valid reports whether s is a known status.
func (s SourceStatus) Valid() bool { return s == StatusActive || s == StatusPaused }

// Source is a registered upstream feed or list.
type Source struct {
	ID           string       `json:"id"`
	Type         SourceType   `json:"sourceType"`
	URL          string       `json:"url"`
	Label        string       `json:"label"`
	Status       SourceStatus `json:"status"`
	CreatedAt    string       `json:"createdAt,omitempty"`
	UpdatedAt    string       `json:"updatedAt,omitempty"`
	LastSyncedAt string       `json:"lastSyncedAt,omitempty"`
	LastError    string       `json:"lastError,omitempty"`
	RSSStateJSON string       `json:"rssStateJson,omitempty"`
	// Readonly marks built-in fallback sources. No telemetry is written
	// for them and they cannot be edited.
	Readonly bool `json:"readonly,omitempty"`
}

// FallbackSource builds the read-only stand-in used when the registry has
// no active source of type t.
func FallbackSource(t SourceType, url string) Source {
	u := CleanText(url)
	return Source{
		ID:       "fallback-" + string(t) + "-" + u,
		Type:     t,
		URL:      u,
		Label:    u,
		Status:   StatusActive,
		Readonly: true,
	}
}

// Event is one calendar entry. Identity is the canonical EventURL.
type Event struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	EventURL          string   `json:"eventUrl"`
	StartDateTimeText string   `json:"startDateTimeText"`
	StartDateISO      string   `json:"startDateISO"`
	LocationText      string   `json:"locationText"`
	Address           string   `json:"address"`
	GoogleMapsURL     string   `json:"googleMapsUrl"`
	Lat               *float64 `json:"lat,omitempty"`
	Lng               *float64 `json:"lng,omitempty"`
	SourceID          string   `json:"sourceId,omitempty"`
	SourceURL         string   `json:"sourceUrl,omitempty"`
	Confidence        float64  `json:"confidence,omitempty"`

	MissedSyncCount int    `json:"missedSyncCount,omitempty"`
	IsDeleted       bool   `json:"isDeleted,omitempty"`
	LastSeenAt      string `json:"lastSeenAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
}

// HasCoordinates reports whether both coordinates are set and finite.
func (e *Event) HasCoordinates() bool { return ValidPoint(e.Lat, e.Lng) }

// Spot tags.
const (
	TagEat   = "eat"
	TagBar   = "bar"
	TagCafes = "cafes"
	TagGoOut = "go out"
	TagShops = "shops"
	TagAvoid = "avoid"
	TagSafe  = "safe"
)

// SpotTags lists every accepted tag.
var SpotTags = []string{TagEat, TagBar, TagCafes, TagGoOut, TagShops, TagAvoid, TagSafe}

// Spot is a curated place, or a region overlay when Tag is avoid/safe and
// Boundary has at least three points.
type Spot struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Tag            string   `json:"tag"`
	Location       string   `json:"location"`
	MapLink        string   `json:"mapLink"`
	CornerLink     string   `json:"cornerLink"`
	CuratorComment string   `json:"curatorComment"`
	Description    string   `json:"description"`
	Details        string   `json:"details"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
	SourceID       string   `json:"sourceId,omitempty"`
	SourceURL      string   `json:"sourceUrl,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`

	Boundary         [][]float64 `json:"boundary,omitempty"`
	Risk             string      `json:"risk,omitempty"`
	SafetyLevel      string      `json:"safetyLevel,omitempty"`
	SafetyHighlights []string    `json:"safetyHighlights,omitempty"`
	CrimeTypes       []string    `json:"crimeTypes,omitempty"`
	AvoidLabel       string      `json:"avoidLabel,omitempty"`

	MissedSyncCount int    `json:"missedSyncCount,omitempty"`
	IsDeleted       bool   `json:"isDeleted,omitempty"`
	LastSeenAt      string `json:"lastSeenAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
}

// HasCoordinates reports whether both coordinates are set and finite.
func (s *Spot) HasCoordinates() bool { return ValidPoint(s.Lat, s.Lng) }

// IsRegionOverlay reports whether s is an informational avoid/safe region.
func (s *Spot) IsRegionOverlay() bool {
	tag := lower(CleanText(s.Tag))
	return (tag == TagAvoid || tag == TagSafe) && len(s.Boundary) >= 3
}

// Stage names where an ingestion error happened.
type Stage string

const (
	StageSourceValidation Stage = "source_validation"
	StageICal             Stage = "ical"
	StageRSS              Stage = "rss"
	StageFirecrawl        Stage = "firecrawl"
)

// IngestionError is a per-source failure reported alongside results. It
// never aborts sibling sources.
type IngestionError struct {
	SourceType SourceType `json:"sourceType"`
	SourceID   string     `json:"sourceId"`
	SourceURL  string     `json:"sourceUrl"`
	EventURL   string     `json:"eventUrl,omitempty"`
	Stage      Stage      `json:"stage"`
	Message    string     `json:"message"`
}

// NewIngestionError builds an error record for src with cleaned fields.
func NewIngestionError(src Source, stage Stage, eventURL, message string) IngestionError {
	return IngestionError{
		SourceType: src.Type,
		SourceID:   CleanText(src.ID),
		SourceURL:  CleanText(src.URL),
		EventURL:   CleanText(eventURL),
		Stage:      stage,
		Message:    CleanText(message),
	}
}

// Coordinates is a resolved point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point returns pointer copies for assignment into Event/Spot.
func (c Coordinates) Point() (*float64, *float64) {
	lat, lng := c.Lat, c.Lng
	return &lat, &lng
}

// Route is a cached travel route between planner stops.
type Route struct {
	EncodedPolyline      string  `json:"encodedPolyline"`
	TotalDistanceMeters  float64 `json:"totalDistanceMeters"`
	TotalDurationSeconds float64 `json:"totalDurationSeconds"`
	UpdatedAt            string  `json:"updatedAt,omitempty"`
}

// Sanitize trims the polyline and clamps negative totals to zero.
func (r Route) Sanitize() Route {
	r.EncodedPolyline = CleanText(r.EncodedPolyline)
	if !(r.TotalDistanceMeters > 0) {
		r.TotalDistanceMeters = 0
	}
	if !(r.TotalDurationSeconds > 0) {
		r.TotalDurationSeconds = 0
	}
	return r
}

// Meta describes the dataset in a Payload.
type Meta struct {
	SyncedAt           string                       `json:"syncedAt"`
	Calendars          []string                     `json:"calendars"`
	EventCount         int                          `json:"eventCount"`
	SpotCount          int                          `json:"spotCount"`
	IngestionErrors    []IngestionError             `json:"ingestionErrors,omitempty"`
	RSSSeenBySourceURL map[string]map[string]string `json:"rssSeenBySourceUrl,omitempty"`
	SampleData         bool                         `json:"sampleData,omitempty"`
}

// Payload is the full dataset served to the UI and mirrored to
// events-cache.json.
type Payload struct {
	Meta   Meta    `json:"meta"`
	Events []Event `json:"events"`
	Places []Spot  `json:"places"`
}

// SyncMeta is the durable record of the last successful write of a set.
type SyncMeta struct {
	Key        string   `json:"key"`
	SyncedAt   string   `json:"syncedAt"`
	SourceURLs []string `json:"calendars"`
	Count      int      `json:"count"`
}

// Sync meta keys.
const (
	MetaEvents = "events"
	MetaSpots  = "spots"
)

const isoLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t as a UTC ISO-8601 timestamp with milliseconds.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// RawPlace is a place as read from an extraction, before tag inference and
// dedup.
type RawPlace struct {
	Name             string `json:"name"`
	Tag              string `json:"tag"`
	Location         string `json:"location"`
	MapLink          string `json:"mapLink"`
	CornerLink       string `json:"cornerLink"`
	CuratorComment   string `json:"curatorComment"`
	ShortDescription string `json:"shortDescription"`
	Details          string `json:"details"`
}
