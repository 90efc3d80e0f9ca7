package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/hazyhaar/tripsync/ingest/internal/dedup"
	"github.com/hazyhaar/tripsync/ingest/internal/extract"
	"github.com/hazyhaar/tripsync/ingest/internal/fetch"
	"github.com/hazyhaar/tripsync/ingest/internal/feed"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// MsgMissingRSSKey is reported when an RSS source syncs without an
// extraction key.
const MsgMissingRSSKey = "Missing FIRECRAWL_API_KEY for RSS event extraction."

// RSSHandler handles newsletter feeds whose posts are run through the
// extractor.
type RSSHandler struct{}

// Stage implements staged.
func (h *RSSHandler) Stage() model.Stage { return model.StageRSS }

// Handle selects new or updated feed items, extracts events from each post
// and advances the cursor for every post that extracted cleanly.
func (h *RSSHandler) Handle(ctx context.Context, src model.Source, state feed.State, p *Pipeline) (EventResult, error) {
	log := p.logger.With("source_id", src.ID, "url", src.URL, "handler", "rss")
	next := feed.State{}
	maps.Copy(next, state)

	if p.extractor == nil || !p.extractor.Enabled() {
		return EventResult{
			Errors: []model.IngestionError{model.NewIngestionError(src, model.StageFirecrawl, "", MsgMissingRSSKey)},
			State:  next,
		}, nil
	}

	result, err := p.fetcher.FetchChecked(ctx, src.URL)
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) {
			return EventResult{State: next}, fmt.Errorf("RSS fetch failed (%d).", se.Code)
		}
		return EventResult{State: next}, err
	}
	items, err := feed.Parse(result.Body)
	if err != nil {
		return EventResult{State: next}, err
	}

	picked := feed.Select(items, next, p.rss.InitialItems, p.rss.MaxItemsPerSync)
	log.Info("rss: items selected", "items", len(items), "selected", len(picked))

	var events []model.Event
	var errs []model.IngestionError
	for _, it := range picked {
		check := p.validate(ctx, it.Link)
		if !check.OK {
			errs = append(errs, model.NewIngestionError(src, model.StageSourceValidation, it.Link, check.Message))
			continue
		}
		data, err := p.extractor.Extract(ctx, []string{check.CanonicalURL}, extract.EventPrompt, extract.EventSchema)
		if err != nil {
			log.Warn("rss: extract failed", "item", it.ItemID, "error", err)
			errs = append(errs, model.NewIngestionError(src, model.StageFirecrawl, it.Link, err.Error()))
			continue
		}
		events = append(events, extract.NormalizeEvents(data, src, it.Title)...)
		version := it.VersionISO
		if version == "" {
			version = feed.SeenMarker
		}
		next[it.ItemID] = version
	}

	return EventResult{
		Events: dedup.DedupeEvents(events),
		Errors: errs,
		State:  next.Trim(p.rss.StateMaxItems),
	}, nil
}
