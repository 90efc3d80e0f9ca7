// Package pipeline runs the per-source fetch → parse → normalize cycle.
//
// It dispatches event sources to a type-specific handler (ics, rss) and
// spot sources to the place extractor. Every failure becomes an
// IngestionError on the result; a failing source never aborts its
// siblings.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hazyhaar/tripsync/horosafe"
	"github.com/hazyhaar/tripsync/ingest/internal/fetch"
	"github.com/hazyhaar/tripsync/ingest/internal/feed"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// Extractor runs AI content extraction over web pages.
type Extractor interface {
	Enabled() bool
	Extract(ctx context.Context, urls []string, prompt string, schema any) (json.RawMessage, error)
}

// RSSConfig bounds the newsletter cursor.
type RSSConfig struct {
	InitialItems    int `yaml:"initial_items"`
	MaxItemsPerSync int `yaml:"max_items_per_sync"`
	StateMaxItems   int `yaml:"state_max_items"`
}

// Defaults fills unset fields.
func (c *RSSConfig) Defaults() {
	if c.InitialItems < 1 {
		c.InitialItems = 1
	}
	if c.MaxItemsPerSync < 1 {
		c.MaxItemsPerSync = 3
	}
	if c.StateMaxItems < 1 {
		c.StateMaxItems = feed.DefaultStateMaxItems
	}
}

// EventResult is the outcome of one event source.
type EventResult struct {
	Events []model.Event
	Errors []model.IngestionError
	// State is the advanced RSS cursor. Nil for calendar sources.
	State feed.State
}

// SpotResult is the outcome of one spot source.
type SpotResult struct {
	Spots  []model.Spot
	Errors []model.IngestionError
}

// EventHandler handles one kind of event source.
type EventHandler interface {
	Handle(ctx context.Context, src model.Source, state feed.State, p *Pipeline) (EventResult, error)
}

// staged handlers name the stage their returned errors belong to.
type staged interface {
	Stage() model.Stage
}

// Pipeline dispatches sources to handlers.
type Pipeline struct {
	fetcher   *fetch.Fetcher
	extractor Extractor
	validate  func(ctx context.Context, url string) horosafe.Result
	rss       RSSConfig
	logger    *slog.Logger
	handlers  map[string]EventHandler
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExtractor sets the extraction client.
func WithExtractor(e Extractor) Option { return func(p *Pipeline) { p.extractor = e } }

// WithValidator replaces the DNS-confirmed URL check applied to sources
// and newsletter posts. Default: horosafe.ValidateForFetch.
func WithValidator(fn func(ctx context.Context, url string) horosafe.Result) Option {
	return func(p *Pipeline) { p.validate = fn }
}

// WithRSS sets the cursor bounds.
func WithRSS(c RSSConfig) Option { return func(p *Pipeline) { p.rss = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New creates a Pipeline with the ics and rss handlers registered.
func New(fetcher *fetch.Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:  fetcher,
		validate: horosafe.ValidateForFetch,
		logger:   slog.Default(),
		handlers: map[string]EventHandler{
			"ics": &ICSHandler{},
			"rss": &RSSHandler{},
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.rss.Defaults()
	return p
}

// Register adds or replaces the handler for kind.
func (p *Pipeline) Register(kind string, h EventHandler) { p.handlers[kind] = h }

// RSS returns the effective cursor bounds.
func (p *Pipeline) RSS() RSSConfig { return p.rss }

// Kind returns the handler kind for an event source URL.
func Kind(url string) string {
	if model.LooksLikeRSS(url) {
		return "rss"
	}
	return "ics"
}

// SyncEventSource validates src and runs its handler. state is the prior
// RSS cursor; it is ignored by calendar sources.
func (p *Pipeline) SyncEventSource(ctx context.Context, src model.Source, state feed.State) EventResult {
	log := p.logger.With("source_id", src.ID, "url", src.URL)
	if res := p.validate(ctx, src.URL); !res.OK {
		log.Warn("pipeline: source rejected", "reason", res.Message)
		return EventResult{
			Errors: []model.IngestionError{model.NewIngestionError(src, model.StageSourceValidation, "", res.Message)},
			State:  state,
		}
	}

	kind := Kind(src.URL)
	h, ok := p.handlers[kind]
	if !ok {
		h = p.handlers["ics"]
	}
	res, err := h.Handle(ctx, src, state, p)
	if err != nil {
		stage := model.StageICal
		if s, ok := h.(staged); ok {
			stage = s.Stage()
		}
		log.Warn("pipeline: source failed", "handler", kind, "error", err)
		res.Errors = append(res.Errors, model.NewIngestionError(src, stage, "", err.Error()))
		if res.State == nil && kind == "rss" {
			res.State = state
		}
	}
	return res
}
