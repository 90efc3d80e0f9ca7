package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/tripsync/ingest/internal/fetch"
	"github.com/hazyhaar/tripsync/ingest/internal/feed"
	"github.com/hazyhaar/tripsync/ingest/internal/ical"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// ICSHandler handles iCalendar feed sources.
type ICSHandler struct{}

// Stage implements staged.
func (h *ICSHandler) Stage() model.Stage { return model.StageICal }

// Handle fetches and parses the calendar. src.URL has already passed the
// validator in SyncEventSource.
func (h *ICSHandler) Handle(ctx context.Context, src model.Source, _ feed.State, p *Pipeline) (EventResult, error) {
	result, err := p.fetcher.FetchChecked(ctx, src.URL)
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) {
			return EventResult{}, fmt.Errorf("iCal fetch failed (%d).", se.Code)
		}
		return EventResult{}, err
	}
	events, err := ical.Parse(result.Body, src)
	if err != nil {
		return EventResult{}, err
	}
	p.logger.Debug("ics: parsed", "source_id", src.ID, "events", len(events))
	return EventResult{Events: events}, nil
}
