package ingest

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/hazyhaar/tripsync/idgen"
	"github.com/hazyhaar/tripsync/ingest/internal/dedup"
	"github.com/hazyhaar/tripsync/ingest/internal/feed"
	"github.com/hazyhaar/tripsync/ingest/internal/localcache"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
	"github.com/hazyhaar/tripsync/ingest/internal/pipeline"
	"github.com/hazyhaar/tripsync/kit"
)

var newRunID = idgen.Prefixed("run_", idgen.Short)

// RunState is the sync orchestrator state.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunCompleted
	// RunPartiallyFailed means the run finished but at least one source
	// reported an error or a durable write failed.
	RunPartiallyFailed
)

func (s RunState) String() string {
	switch s {
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunPartiallyFailed:
		return "partially_failed"
	default:
		return "idle"
	}
}

// MarshalText encodes the state by name.
func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is the outcome of a full sync run.
type Result struct {
	Meta   Meta
	Events []Event
	Places []Spot
	State  RunState
	// PersistErr joins the durable write failures. The local cache file was
	// still written.
	PersistErr error
}

// Payload returns the dataset as served to the UI.
func (r *Result) Payload() Payload {
	return Payload{Meta: r.Meta, Events: r.Events, Places: r.Places}
}

// SourceSyncResult is the outcome of syncing one source.
type SourceSyncResult struct {
	SyncedAt string           `json:"syncedAt"`
	Events   *int             `json:"events,omitempty"`
	Spots    *int             `json:"spots,omitempty"`
	Errors   []IngestionError `json:"errors"`
}

// call is the run slot. Only one sync, full or single-source, holds it at
// a time; full calls can be joined by other full callers.
type call struct {
	done chan struct{}
	full bool
	res  *Result
	err  error
}

// State returns the orchestrator state. After a run it holds that run's
// outcome until the next run starts.
func (s *Service) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// acquire claims the run slot. A full caller that finds a full run in
// flight gets that call back with owner false and should wait on it. Any
// other conflict waits for the active call to finish and retries.
func (s *Service) acquire(ctx context.Context, full bool) (c *call, owner bool, err error) {
	for {
		s.mu.Lock()
		cur := s.inflight
		if cur == nil {
			c = &call{done: make(chan struct{}), full: full}
			s.inflight = c
			if full {
				s.state = RunRunning
			}
			s.mu.Unlock()
			return c, true, nil
		}
		s.mu.Unlock()
		if full && cur.full {
			return cur, false, nil
		}
		select {
		case <-cur.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (s *Service) release(c *call) {
	s.mu.Lock()
	s.inflight = nil
	if c.full {
		if c.res != nil {
			s.state = c.res.State
		} else {
			s.state = RunIdle
		}
	}
	s.mu.Unlock()
	close(c.done)
}

// Sync runs a full sync. A caller arriving while a run is in flight waits
// for it and receives the same result; a single-source sync in flight is
// waited out first. The run itself is not cancelled with ctx.
func (s *Service) Sync(ctx context.Context) (*Result, error) {
	c, owner, err := s.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	if !owner {
		select {
		case <-c.done:
			return c.res, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.res, c.err = s.run(context.WithoutCancel(ctx))
	s.release(c)
	return c.res, c.err
}

func (s *Service) run(ctx context.Context) (*Result, error) {
	started := time.Now()
	syncedAt := s.stamp()
	eventSources, spotSources := s.activeSources(ctx)
	if len(eventSources) == 0 && len(spotSources) == 0 {
		return nil, ErrNoSources
	}
	runID := newRunID()
	ctx = kit.WithSyncRunID(ctx, runID)
	log := s.logger.With("run_id", runID, "synced_at", syncedAt)
	if trace := kit.GetTraceID(ctx); trace != "" {
		log = log.With("trace_id", trace)
	}
	log.Info("ingest: sync started", "event_sources", len(eventSources), "spot_sources", len(spotSources))

	ev := s.syncEvents(ctx, eventSources, s.cachedCursors())
	sp := s.syncSpots(ctx, spotSources)

	static := s.staticPlaces(ctx, true)
	base := sp.spots
	if len(base) == 0 {
		base = static
	}
	places := dedup.MergeRegionPlaces(base, static)

	errs := make([]model.IngestionError, 0, len(ev.errors)+len(sp.errors))
	errs = append(errs, ev.errors...)
	errs = append(errs, sp.errors...)

	calendars := sourceURLs(eventSources)
	res := &Result{
		Meta: model.Meta{
			SyncedAt:           syncedAt,
			Calendars:          calendars,
			EventCount:         len(ev.events),
			SpotCount:          len(places),
			IngestionErrors:    errs,
			RSSSeenBySourceURL: ev.cursors,
		},
		Events: ev.events,
		Places: places,
	}

	if _, err := s.files.WriteJSON(localcache.EventsCacheFile, res.Payload()); err != nil {
		log.Warn("ingest: local cache write failed", "error", err)
	}

	res.PersistErr = s.persist(ctx, syncedAt, ev, places, eventSources, spotSources, sp.errors)

	res.State = RunCompleted
	if len(errs) > 0 || res.PersistErr != nil {
		res.State = RunPartiallyFailed
	}
	s.countErrors(errs)
	s.metrics.ObserveSync(res.State.String(), time.Since(started), len(res.Events), len(res.Places))
	log.Info("ingest: sync finished",
		"state", res.State.String(),
		"events", len(res.Events),
		"places", len(res.Places),
		"errors", len(errs),
		"duration", time.Since(started),
	)
	return res, nil
}

// persist writes the durable state. All writes run concurrently and are
// all awaited; failures are logged and joined.
func (s *Service) persist(ctx context.Context, syncedAt string, ev eventOutcome, places []model.Spot,
	eventSources, spotSources []model.Source, spotErrs []model.IngestionError) error {
	if s.store == nil {
		return nil
	}
	threshold := s.config.MissedSyncThreshold
	cursors := s.serializeCursors(ev.cursors)

	writes := []struct {
		name string
		fn   func() error
	}{
		{"events", func() error {
			return s.store.ReplaceEventSet(ctx, ev.events,
				model.SyncMeta{SyncedAt: syncedAt, SourceURLs: sourceURLs(eventSources)}, threshold)
		}},
		{"spots", func() error {
			return s.store.ReplaceSpotSet(ctx, places,
				model.SyncMeta{SyncedAt: syncedAt, SourceURLs: sourceURLs(spotSources)}, threshold)
		}},
		{"event_sources", func() error {
			return s.recordStatus(ctx, eventSources, ev.errors, syncedAt, cursors)
		}},
		{"spot_sources", func() error {
			return s.recordStatus(ctx, spotSources, spotErrs, syncedAt, nil)
		}},
	}

	errs := make([]error, len(writes))
	var wg sync.WaitGroup
	for i, w := range writes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.fn(); err != nil {
				s.logger.Warn("ingest: durable write failed", "write", w.name, "error", err)
				errs[i] = err
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

type eventOutcome struct {
	events  []model.Event
	errors  []model.IngestionError
	cursors map[string]map[string]string
}

type spotOutcome struct {
	spots  []model.Spot
	errors []model.IngestionError
}

func feedKey(url string) string { return feed.StateKey(url) }

// syncEvents runs every event source in order, then dedupes and enriches
// the union. fallback holds the cursors from the local cache file, used
// when a source has no stored cursor.
func (s *Service) syncEvents(ctx context.Context, sources []model.Source, fallback map[string]map[string]string) eventOutcome {
	limit := s.pipeline.RSS().StateMaxItems
	out := eventOutcome{cursors: make(map[string]map[string]string)}
	var all []model.Event
	for _, src := range sources {
		key := feedKey(src.URL)
		rss := pipeline.Kind(src.URL) == "rss"
		var state feed.State
		if rss {
			state = feed.ResolveState(src.RSSStateJSON, fallback[key], limit)
		}
		res := s.pipeline.SyncEventSource(ctx, src, state)
		all = append(all, res.Events...)
		out.errors = append(out.errors, res.Errors...)
		if rss && res.State != nil {
			out.cursors[key] = map[string]string(res.State.Normalize(limit))
		}
	}
	out.events = s.resolver.EnrichEvents(ctx, dedup.DedupeEvents(all))
	return out
}

func (s *Service) syncSpots(ctx context.Context, sources []model.Source) spotOutcome {
	var out spotOutcome
	var all []model.Spot
	for _, src := range sources {
		res := s.pipeline.SyncSpotSource(ctx, src)
		all = append(all, res.Spots...)
		out.errors = append(out.errors, res.Errors...)
	}
	out.spots, _ = s.resolver.EnrichSpots(ctx, dedup.DedupeSpots(all))
	return out
}

// staticPlaces reads static-places.json. With ensure set, missing
// coordinates are resolved and the file is rewritten when any were found.
func (s *Service) staticPlaces(ctx context.Context, ensure bool) []model.Spot {
	var raw []model.Spot
	if err := s.files.ReadJSON(localcache.StaticPlacesFile, &raw); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("ingest: static places unreadable", "error", err)
		}
		return nil
	}
	places := make([]model.Spot, len(raw))
	for i, sp := range raw {
		places[i] = dedup.NormalizePlaceCoordinates(sp)
	}
	if !ensure {
		return places
	}
	enriched, changed := s.resolver.EnrichSpots(ctx, places)
	if changed {
		if _, err := s.files.WriteJSON(localcache.StaticPlacesFile, enriched); err != nil {
			s.logger.Warn("ingest: static places write failed", "error", err)
		}
	}
	return enriched
}

// cachedCursors reads the RSS cursors mirrored in the local cache file.
func (s *Service) cachedCursors() map[string]map[string]string {
	var p model.Payload
	if err := s.files.ReadJSON(localcache.EventsCacheFile, &p); err != nil {
		return nil
	}
	return p.Meta.RSSSeenBySourceURL
}

func (s *Service) serializeCursors(cursors map[string]map[string]string) map[string]string {
	limit := s.pipeline.RSS().StateMaxItems
	out := make(map[string]string, len(cursors))
	for k, st := range cursors {
		out[k] = feed.State(st).Serialize(limit)
	}
	return out
}

func sourceURLs(sources []model.Source) []string {
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		out = append(out, src.URL)
	}
	return out
}

// SyncSource runs one source by id, including the built-in fallbacks.
// Event sources also mirror their RSS cursor into the local cache file.
// It holds the run slot, so it never overlaps a full sync.
func (s *Service) SyncSource(ctx context.Context, id string) (*SourceSyncResult, error) {
	id = model.CleanText(id)
	all, err := s.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	var src *model.Source
	for i := range all {
		if all[i].ID == id {
			src = &all[i]
			break
		}
	}
	if src == nil {
		return nil, notFound(MsgSourceNotFound)
	}

	c, _, err := s.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer s.release(c)

	ctx = context.WithoutCancel(ctx)
	syncedAt := s.stamp()
	log := s.logger.With("source_id", src.ID, "url", src.URL)
	sources := []model.Source{*src}

	if src.Type == model.SourceSpot {
		sp := s.syncSpots(ctx, sources)
		if err := s.recordStatus(ctx, sources, sp.errors, syncedAt, nil); err != nil {
			log.Warn("ingest: source status write failed", "error", err)
		}
		n := len(sp.spots)
		s.countErrors(sp.errors)
		return &SourceSyncResult{SyncedAt: syncedAt, Spots: &n, Errors: nonNilErrors(sp.errors)}, nil
	}

	ev := s.syncEvents(ctx, sources, s.cachedCursors())
	if err := s.recordStatus(ctx, sources, ev.errors, syncedAt, s.serializeCursors(ev.cursors)); err != nil {
		log.Warn("ingest: source status write failed", "error", err)
	}
	s.mirrorCursors(ev.cursors)
	n := len(ev.events)
	s.countErrors(ev.errors)
	return &SourceSyncResult{SyncedAt: syncedAt, Events: &n, Errors: nonNilErrors(ev.errors)}, nil
}

// mirrorCursors merges cursors into the local cache file's meta so runs
// without a durable store resume where they left off.
func (s *Service) mirrorCursors(cursors map[string]map[string]string) {
	if len(cursors) == 0 {
		return
	}
	var p model.Payload
	if err := s.files.ReadJSON(localcache.EventsCacheFile, &p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("ingest: local cache unreadable", "error", err)
	}
	if p.Meta.RSSSeenBySourceURL == nil {
		p.Meta.RSSSeenBySourceURL = make(map[string]map[string]string, len(cursors))
	}
	for k, v := range cursors {
		p.Meta.RSSSeenBySourceURL[k] = v
	}
	if p.Events == nil {
		p.Events = []model.Event{}
	}
	if p.Places == nil {
		p.Places = []model.Spot{}
	}
	if _, err := s.files.WriteJSON(localcache.EventsCacheFile, p); err != nil {
		s.logger.Warn("ingest: local cache write failed", "error", err)
	}
}

func (s *Service) countErrors(errs []model.IngestionError) {
	for _, e := range errs {
		s.metrics.IngestionError(string(e.Stage))
	}
}

func nonNilErrors(errs []model.IngestionError) []model.IngestionError {
	if errs == nil {
		return []model.IngestionError{}
	}
	return errs
}
