// Package ingest is the trip data ingestion and synchronization engine.
//
// A Service owns the source registry, the per-source pipeline, the geocode
// and route caches, and the local cache files. Sync runs are single-flight:
// a caller arriving while a run is in progress receives that run's result.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/tripsync/horosafe"
	"github.com/hazyhaar/tripsync/ingest/internal/extract"
	"github.com/hazyhaar/tripsync/ingest/internal/fetch"
	"github.com/hazyhaar/tripsync/ingest/internal/geo"
	"github.com/hazyhaar/tripsync/ingest/internal/localcache"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
	"github.com/hazyhaar/tripsync/ingest/internal/pipeline"
	"github.com/hazyhaar/tripsync/ingest/internal/scheduler"
	"github.com/hazyhaar/tripsync/ingest/internal/store"
	"github.com/hazyhaar/tripsync/observability"
)

// Persistence is the durable store behind the registry and the record sets.
// *store.Store implements it.
type Persistence interface {
	ListSources(ctx context.Context, t model.SourceType) ([]model.Source, error)
	GetSource(ctx context.Context, id string) (*model.Source, error)
	FindSource(ctx context.Context, url string, t model.SourceType) (*model.Source, error)
	InsertSource(ctx context.Context, src *model.Source) error
	PatchSource(ctx context.Context, id string, p store.SourcePatch) (*model.Source, error)
	DeleteSource(ctx context.Context, id string) (bool, error)
	RecordSourceSync(ctx context.Context, id, syncedAt, lastError, rssStateJSON string) error

	ListEvents(ctx context.Context) ([]model.Event, error)
	ReplaceEventSet(ctx context.Context, events []model.Event, meta model.SyncMeta, threshold int) error
	ListSpots(ctx context.Context) ([]model.Spot, error)
	ReplaceSpotSet(ctx context.Context, spots []model.Spot, meta model.SyncMeta, threshold int) error
	GetSyncMeta(ctx context.Context, key string) (*model.SyncMeta, error)

	geo.GeocodeStore
	geo.RouteStore
}

var _ Persistence = (*store.Store)(nil)

// Extractor runs AI content extraction over web pages.
type Extractor interface {
	Enabled() bool
	Extract(ctx context.Context, urls []string, prompt string, schema any) (json.RawMessage, error)
}

// GeocodeProvider is the live geocoding tier.
type GeocodeProvider interface {
	Geocode(ctx context.Context, address string) (Coordinates, bool, error)
}

// Service is the ingestion orchestrator.
type Service struct {
	config   Config
	store    Persistence
	files    *localcache.Storage
	pipeline *pipeline.Pipeline
	resolver *geo.Resolver
	routes   *geo.RouteCache
	sched    *scheduler.Scheduler
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time

	extractor Extractor
	provider  GeocodeProvider
	validate  func(ctx context.Context, url string) horosafe.Result

	mu       sync.Mutex
	inflight *call
	state    RunState
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithPersistence sets the durable store. Without one the registry is
// read-only (built-in sources) and runs only write the local cache file.
func WithPersistence(p Persistence) ServiceOption {
	return func(s *Service) { s.store = p }
}

// WithDB wraps an opened tripsync database in the SQLite adapter.
func WithDB(db *sql.DB) ServiceOption {
	return func(s *Service) { s.store = store.New(db) }
}

// WithExtractor replaces the Firecrawl client.
func WithExtractor(e Extractor) ServiceOption {
	return func(s *Service) { s.extractor = e }
}

// WithGeocodeProvider replaces the Google Geocoding provider.
func WithGeocodeProvider(p GeocodeProvider) ServiceOption {
	return func(s *Service) { s.provider = p }
}

// WithValidator replaces the DNS-confirmed URL check applied to sources,
// newsletter posts, and every fetch and redirect hop.
func WithValidator(fn func(ctx context.Context, url string) horosafe.Result) ServiceOption {
	return func(s *Service) { s.validate = fn }
}

// WithMetrics records run outcomes.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the clock used for sync stamps (for testing).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) { s.now = fn }
}

// New creates a Service.
func New(cfg Config, opts ...ServiceOption) (*Service, error) {
	cfg.defaults()
	svc := &Service{
		config:   cfg,
		logger:   slog.Default(),
		now:      time.Now,
		validate: horosafe.ValidateForFetch,
	}
	for _, o := range opts {
		o(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	svc.files = localcache.New(cfg.DataDir, svc.logger)

	fcfg := cfg.Fetch
	if fcfg.URLValidator == nil {
		validate := svc.validate
		fcfg.URLValidator = func(ctx context.Context, u string) error {
			return validate(ctx, u).Error()
		}
	}
	fetcher := fetch.New(fcfg)

	if svc.extractor == nil {
		svc.extractor = extract.New(cfg.Extract, extract.WithLogger(svc.logger))
	}

	geoOpts := []geo.ResolverOption{geo.WithFiles(svc.files), geo.WithLogger(svc.logger)}
	routeOpts := []geo.RouteOption{
		geo.WithRouteFiles(svc.files),
		geo.WithRouteMax(cfg.Geo.RouteCacheMax),
		geo.WithRouteLogger(svc.logger),
		geo.WithRouteClock(svc.now),
	}
	if svc.store != nil {
		geoOpts = append(geoOpts, geo.WithGeocodeStore(svc.store))
		routeOpts = append(routeOpts, geo.WithRouteStore(svc.store))
	}
	if svc.provider == nil {
		if g := geo.NewGoogleProvider(cfg.Geo.APIKey); g != nil {
			if cfg.Geo.Endpoint != "" {
				g.Endpoint = cfg.Geo.Endpoint
			}
			svc.provider = g
		}
	}
	if svc.provider != nil {
		geoOpts = append(geoOpts, geo.WithProvider(svc.provider))
	}
	svc.resolver = geo.NewResolver(geoOpts...)
	svc.routes = geo.NewRouteCache(routeOpts...)

	svc.pipeline = pipeline.New(fetcher,
		pipeline.WithExtractor(svc.extractor),
		pipeline.WithValidator(svc.validate),
		pipeline.WithRSS(cfg.RSS),
		pipeline.WithLogger(svc.logger),
	)

	if cfg.Scheduler.Enabled() {
		sched, err := scheduler.New(cfg.Scheduler, func(ctx context.Context) error {
			_, err := svc.Sync(ctx)
			return err
		}, svc.logger)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		svc.sched = sched
	}
	return svc, nil
}

// Start launches the cron scheduler when one is configured.
func (s *Service) Start(ctx context.Context) {
	if s.sched == nil {
		return
	}
	s.sched.Start(ctx)
	s.logger.Info("ingest: scheduled sync enabled", "spec", s.config.Scheduler.Spec, "next", s.sched.Next())
}

// Close stops the scheduler, waiting for a running sync or ctx.
func (s *Service) Close(ctx context.Context) {
	if s.sched != nil {
		s.sched.Stop(ctx)
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

func (s *Service) stamp() string { return model.FormatTime(s.now()) }
