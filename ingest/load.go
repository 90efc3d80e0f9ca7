package ingest

import (
	"context"
	"errors"
	"io/fs"

	"github.com/hazyhaar/tripsync/ingest/internal/dedup"
	"github.com/hazyhaar/tripsync/ingest/internal/localcache"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// LoadEvents returns the dataset for the UI. It reads, in order: the
// durable store, the local cache file, the bundled sample file. When none
// is available the payload is empty. Places are always layered with the
// static region overlays.
func (s *Service) LoadEvents(ctx context.Context) (*Payload, error) {
	static := s.staticPlaces(ctx, false)
	calendars := s.currentCalendars(ctx)

	var stored []model.Spot
	if s.store != nil {
		var err error
		if stored, err = s.store.ListSpots(ctx); err != nil {
			s.logger.Warn("ingest: durable spots unavailable", "error", err)
			stored = nil
		}
	}
	base := stored
	if len(base) == 0 {
		base = static
	}
	places := dedup.MergeRegionPlaces(base, static)

	if p, ok := s.loadStored(ctx, calendars, places); ok {
		return p, nil
	}

	var cached model.Payload
	err := s.files.ReadJSON(localcache.EventsCacheFile, &cached)
	if err == nil {
		var merged []model.Spot
		if len(cached.Places) > 0 {
			norm := make([]model.Spot, len(cached.Places))
			for i, sp := range cached.Places {
				norm[i] = dedup.NormalizePlaceCoordinates(sp)
			}
			merged = dedup.MergeRegionPlaces(norm, static)
		}
		if len(merged) == 0 {
			merged = places
		}
		cached.Places = merged
		if cached.Events == nil {
			cached.Events = []model.Event{}
		}
		return &cached, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("ingest: local cache unreadable", "error", err)
	}

	var sample []model.Event
	if err := s.files.ReadJSON(localcache.SampleEventsFile, &sample); err == nil {
		return &Payload{
			Meta: model.Meta{
				Calendars:  calendars,
				EventCount: len(sample),
				SpotCount:  len(places),
				SampleData: true,
			},
			Events: nonNilEvents(sample),
			Places: places,
		}, nil
	}

	return &Payload{
		Meta:   model.Meta{Calendars: calendars, SpotCount: len(places)},
		Events: []model.Event{},
		Places: places,
	}, nil
}

// loadStored builds the payload from the durable store. ok is false when
// the store is missing, failing, or has never been synced.
func (s *Service) loadStored(ctx context.Context, calendars []string, places []model.Spot) (*Payload, bool) {
	if s.store == nil {
		return nil, false
	}
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		s.logger.Warn("ingest: durable events unavailable", "error", err)
		return nil, false
	}
	meta, err := s.store.GetSyncMeta(ctx, model.MetaEvents)
	if err != nil {
		s.logger.Warn("ingest: durable sync meta unavailable", "error", err)
		return nil, false
	}
	if meta == nil && len(events) == 0 {
		return nil, false
	}

	m := model.Meta{Calendars: calendars, EventCount: len(events), SpotCount: len(places)}
	if meta != nil {
		m.SyncedAt = meta.SyncedAt
		if len(meta.SourceURLs) > 0 {
			m.Calendars = meta.SourceURLs
		}
	}
	return &Payload{Meta: m, Events: nonNilEvents(events), Places: places}, true
}

// currentCalendars lists the active event source URLs, else the built-ins.
func (s *Service) currentCalendars(ctx context.Context) []string {
	var urls []string
	for _, src := range s.registry(ctx, model.SourceEvent) {
		if src.Status == model.StatusActive {
			urls = append(urls, src.URL)
		}
	}
	if len(urls) == 0 {
		return sourceURLs(s.fallbackEventSources())
	}
	return urls
}

func nonNilEvents(events []model.Event) []model.Event {
	if events == nil {
		return []model.Event{}
	}
	return events
}
