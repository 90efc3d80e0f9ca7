package ingest

import (
	"github.com/hazyhaar/tripsync/ingest/internal/model"
	"github.com/hazyhaar/tripsync/ingest/internal/store"
)

// Record types shared with callers outside the ingest tree.
type (
	Source         = model.Source
	SourceType     = model.SourceType
	SourceStatus   = model.SourceStatus
	Event          = model.Event
	Spot           = model.Spot
	Payload        = model.Payload
	Meta           = model.Meta
	IngestionError = model.IngestionError
	Coordinates    = model.Coordinates
	Route          = model.Route
	SourcePatch    = store.SourcePatch
)

const (
	SourceEvent  = model.SourceEvent
	SourceSpot   = model.SourceSpot
	StatusActive = model.StatusActive
	StatusPaused = model.StatusPaused
)

// Schema is the SQLite schema of the durable store. Apply it with
// dbopen.WithSchema(ingest.Schema).
const Schema = store.Schema
