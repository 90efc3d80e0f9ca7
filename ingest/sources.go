package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
	"github.com/hazyhaar/tripsync/ingest/internal/store"
)

// SourceInput is the body of a create request.
type SourceInput struct {
	Type  string `json:"sourceType"`
	URL   string `json:"url"`
	Label string `json:"label"`
}

// SourceUpdate is the body of an update request. Nil fields are left
// unchanged.
type SourceUpdate struct {
	Label  *string `json:"label"`
	Status *string `json:"status"`
}

// registry lists the stored sources of type t. A registry read error is
// logged and treated as an empty registry so that runs fall back to the
// built-ins.
func (s *Service) registry(ctx context.Context, t model.SourceType) []model.Source {
	if s.store == nil {
		return nil
	}
	list, err := s.store.ListSources(ctx, t)
	if err != nil {
		s.logger.Warn("ingest: source registry unavailable", "error", err)
		return nil
	}
	return list
}

func (s *Service) fallbackEventSources() []model.Source {
	out := make([]model.Source, 0, len(s.config.CalendarURLs))
	for _, u := range s.config.CalendarURLs {
		if u = model.CleanText(u); u != "" {
			out = append(out, model.FallbackSource(model.SourceEvent, u))
		}
	}
	return out
}

func (s *Service) fallbackSpotSources() []model.Source {
	out := make([]model.Source, 0, len(s.config.SpotSourceURLs))
	for _, u := range s.config.SpotSourceURLs {
		if u = model.CleanText(u); u != "" {
			out = append(out, model.FallbackSource(model.SourceSpot, u))
		}
	}
	return out
}

// ListSources returns the registry. When it holds no source of a type the
// built-in sources of that type are appended, marked readonly.
func (s *Service) ListSources(ctx context.Context) ([]Source, error) {
	all := s.registry(ctx, "")
	var hasEvent, hasSpot bool
	for _, src := range all {
		switch src.Type {
		case model.SourceEvent:
			hasEvent = true
		case model.SourceSpot:
			hasSpot = true
		}
	}
	out := append([]model.Source{}, all...)
	if !hasEvent {
		out = append(out, s.fallbackEventSources()...)
	}
	if !hasSpot {
		out = append(out, s.fallbackSpotSources()...)
	}
	return out, nil
}

// activeSources snapshots the sources a run processes: active registry
// sources by type, else the built-ins.
func (s *Service) activeSources(ctx context.Context) (events, spots []model.Source) {
	for _, src := range s.registry(ctx, "") {
		if src.Status != model.StatusActive {
			continue
		}
		switch src.Type {
		case model.SourceEvent:
			events = append(events, src)
		case model.SourceSpot:
			spots = append(spots, src)
		}
	}
	if len(events) == 0 {
		events = s.fallbackEventSources()
	}
	if len(spots) == 0 {
		spots = s.fallbackSpotSources()
	}
	return events, spots
}

// CreateSource registers a source. A source with the same url and type is
// relabelled and reactivated instead of duplicated.
func (s *Service) CreateSource(ctx context.Context, in SourceInput) (*Source, error) {
	if s.store == nil {
		return nil, &userError{msg: MsgNoPersistence, kind: ErrNoPersistence}
	}
	t := model.SourceType(strings.ToLower(model.CleanText(in.Type)))
	if !t.Valid() {
		return nil, invalid(MsgBadSourceType)
	}
	url := model.CleanText(in.URL)
	if res := s.validate(ctx, url); !res.OK {
		return nil, invalid(res.Message)
	}
	label := model.CleanText(in.Label)
	if label == "" {
		label = url
	}

	existing, err := s.store.FindSource(ctx, url, t)
	if err != nil {
		return nil, fmt.Errorf("ingest: find source: %w", err)
	}
	if existing != nil {
		active := model.StatusActive
		src, err := s.store.PatchSource(ctx, existing.ID, store.SourcePatch{Label: &label, Status: &active})
		if err != nil {
			return nil, fmt.Errorf("ingest: reactivate source: %w", err)
		}
		return src, nil
	}

	src := &model.Source{Type: t, URL: url, Label: label, Status: model.StatusActive}
	if err := s.store.InsertSource(ctx, src); err != nil {
		return nil, fmt.Errorf("ingest: insert source: %w", err)
	}
	s.logger.Info("ingest: source created", "source_id", src.ID, "type", t, "url", url)
	return src, nil
}

// UpdateSource changes the label and/or status of a stored source.
func (s *Service) UpdateSource(ctx context.Context, id string, in SourceUpdate) (*Source, error) {
	if s.store == nil {
		return nil, &userError{msg: MsgNoPersistence, kind: ErrNoPersistence}
	}
	var patch store.SourcePatch
	if in.Label != nil {
		label := model.CleanText(*in.Label)
		patch.Label = &label
	}
	if in.Status != nil {
		st := model.SourceStatus(strings.ToLower(model.CleanText(*in.Status)))
		if !st.Valid() {
			return nil, invalid(MsgBadStatus)
		}
		patch.Status = &st
	}
	if patch.Label == nil && patch.Status == nil {
		return nil, &userError{msg: MsgEmptyUpdate, kind: ErrEmptyUpdate}
	}

	src, err := s.store.PatchSource(ctx, model.CleanText(id), patch)
	if err != nil {
		return nil, fmt.Errorf("ingest: update source: %w", err)
	}
	if src == nil {
		return nil, notFound(MsgSourceNotFound)
	}
	return src, nil
}

// DeleteSource removes a stored source.
func (s *Service) DeleteSource(ctx context.Context, id string) error {
	if s.store == nil {
		return &userError{msg: MsgNoPersistence, kind: ErrNoPersistence}
	}
	ok, err := s.store.DeleteSource(ctx, model.CleanText(id))
	if err != nil {
		return fmt.Errorf("ingest: delete source: %w", err)
	}
	if !ok {
		return notFound(MsgSourceNotFound)
	}
	return nil
}

// recordStatus writes per-source telemetry after a run: the run stamp, the
// first error reported for the source, and the advanced RSS cursor.
// Readonly sources are skipped.
func (s *Service) recordStatus(ctx context.Context, sources []model.Source, errs []model.IngestionError, syncedAt string, cursors map[string]string) error {
	if s.store == nil {
		return nil
	}
	first := make(map[string]string)
	for _, e := range errs {
		if e.SourceID == "" {
			continue
		}
		if _, ok := first[e.SourceID]; !ok {
			first[e.SourceID] = e.Message
		}
	}
	var failed []error
	for _, src := range sources {
		if src.Readonly || src.ID == "" {
			continue
		}
		cursor := cursors[feedKey(src.URL)]
		if err := s.store.RecordSourceSync(ctx, src.ID, syncedAt, first[src.ID], cursor); err != nil {
			s.logger.Warn("ingest: source status write failed", "source_id", src.ID, "error", err)
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("ingest: record source status: %w", errors.Join(failed...))
	}
	return nil
}
