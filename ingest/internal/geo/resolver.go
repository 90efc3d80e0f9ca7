// Package geo resolves addresses to coordinates through a tiered cache and
// keeps the planner's route cache.
//
// Geocode tiers, in order: the in-process map (hydrated once from
// geocode-cache.json), the durable store, then the provider. A provider
// hit is written through to every tier. Misses never fail the caller.
package geo

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/hazyhaar/tripsync/connectivity"
	"github.com/hazyhaar/tripsync/ingest/internal/localcache"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// GeocodeStore is the durable geocode tier.
type GeocodeStore interface {
	GetGeocode(ctx context.Context, key string) (model.Coordinates, bool, error)
	UpsertGeocode(ctx context.Context, key, addressText string, c model.Coordinates) error
}

// Provider is the live geocoding tier.
type Provider interface {
	Geocode(ctx context.Context, address string) (model.Coordinates, bool, error)
}

// Resolver is the geocode cache. Safe for concurrent use.
type Resolver struct {
	store    GeocodeStore
	provider Provider
	breaker  *connectivity.CircuitBreaker
	files    *localcache.Storage
	logger   *slog.Logger

	hydrate sync.Once
	mu      sync.Mutex
	mem     map[string]model.Coordinates
	dirty   bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithGeocodeStore sets the durable tier.
func WithGeocodeStore(s GeocodeStore) ResolverOption {
	return func(r *Resolver) { r.store = s }
}

// WithProvider sets the live tier. A nil provider disables it.
func WithProvider(p Provider) ResolverOption {
	return func(r *Resolver) { r.provider = p }
}

// WithBreaker replaces the provider circuit breaker.
func WithBreaker(cb *connectivity.CircuitBreaker) ResolverOption {
	return func(r *Resolver) { r.breaker = cb }
}

// WithFiles sets the local file tier.
func WithFiles(s *localcache.Storage) ResolverOption {
	return func(r *Resolver) { r.files = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		breaker: connectivity.NewCircuitBreaker(),
		logger:  slog.Default(),
		mem:     make(map[string]model.Coordinates),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type fileEntry struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (r *Resolver) load() {
	r.hydrate.Do(func() {
		if r.files == nil {
			return
		}
		var raw map[string]fileEntry
		if err := r.files.ReadJSON(localcache.GeocodeCacheFile, &raw); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.logger.Warn("geo: geocode cache unreadable", "error", err)
			}
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		for k, e := range raw {
			if k == "" || !model.ValidPoint(e.Lat, e.Lng) {
				continue
			}
			if _, ok := r.mem[k]; !ok {
				r.mem[k] = model.Coordinates{Lat: *e.Lat, Lng: *e.Lng}
			}
		}
	})
}

func (r *Resolver) remember(key string, c model.Coordinates) {
	r.mu.Lock()
	r.mem[key] = c
	r.dirty = true
	r.mu.Unlock()
}

// Flush rewrites geocode-cache.json from the memory tier when entries were
// added since the last write.
func (r *Resolver) Flush() {
	if r.files == nil {
		return
	}
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	snapshot := make(map[string]model.Coordinates, len(r.mem))
	for k, v := range r.mem {
		snapshot[k] = v
	}
	r.dirty = false
	r.mu.Unlock()
	if _, err := r.files.WriteJSON(localcache.GeocodeCacheFile, snapshot); err != nil {
		r.logger.Warn("geo: geocode cache write failed", "error", err)
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
	}
}

// Len returns the number of addresses held in memory.
func (r *Resolver) Len() int {
	r.load()
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mem)
}

// Resolve returns the coordinates of addressText. ok is false when no tier
// knows the address.
func (r *Resolver) Resolve(ctx context.Context, addressText string) (model.Coordinates, bool) {
	defer r.Flush()
	return r.resolve(ctx, addressText)
}

// resolve is Resolve without the file write; batch callers flush once.
func (r *Resolver) resolve(ctx context.Context, addressText string) (model.Coordinates, bool) {
	key := model.NormalizeAddressKey(addressText)
	if key == "" {
		return model.Coordinates{}, false
	}
	r.load()

	r.mu.Lock()
	c, ok := r.mem[key]
	r.mu.Unlock()
	if ok {
		return c, true
	}

	if r.store != nil {
		c, ok, err := r.store.GetGeocode(ctx, key)
		if err != nil {
			r.logger.Warn("geo: durable geocode read failed", "key", key, "error", err)
		} else if ok {
			r.remember(key, c)
			return c, true
		}
	}

	if r.provider == nil {
		return model.Coordinates{}, false
	}
	var found bool
	err := r.breaker.Do(ctx, "geocode", func(ctx context.Context) error {
		var perr error
		c, found, perr = r.provider.Geocode(ctx, addressText)
		return perr
	})
	if err != nil {
		r.logger.Debug("geo: provider lookup failed", "key", key, "error", err)
		return model.Coordinates{}, false
	}
	if !found {
		return model.Coordinates{}, false
	}

	r.remember(key, c)
	if r.store != nil {
		if err := r.store.UpsertGeocode(ctx, key, model.CleanText(addressText), c); err != nil {
			r.logger.Warn("geo: durable geocode write failed", "key", key, "error", err)
		}
	}
	return c, true
}

// ResolvePoint fills coordinates from, in order: explicit finite lat/lng,
// a "query=lat,lng" map URL, then the geocode tiers for address.
func (r *Resolver) ResolvePoint(ctx context.Context, lat, lng *float64, mapURL, address string) (model.Coordinates, bool) {
	defer r.Flush()
	return r.resolvePoint(ctx, lat, lng, mapURL, address)
}

func (r *Resolver) resolvePoint(ctx context.Context, lat, lng *float64, mapURL, address string) (model.Coordinates, bool) {
	if model.ValidPoint(lat, lng) {
		return model.Coordinates{Lat: *lat, Lng: *lng}, true
	}
	if c, ok := model.PointFromMapURL(mapURL); ok {
		return c, true
	}
	return r.resolve(ctx, address)
}

// EnrichEvents fills missing event coordinates. Target: address, else
// locationText. The file tier is written once per call.
func (r *Resolver) EnrichEvents(ctx context.Context, events []model.Event) []model.Event {
	defer r.Flush()
	out := make([]model.Event, len(events))
	for i, ev := range events {
		target := ev.Address
		if target == "" {
			target = ev.LocationText
		}
		if c, ok := r.resolvePoint(ctx, ev.Lat, ev.Lng, ev.GoogleMapsURL, target); ok {
			ev.Lat, ev.Lng = c.Point()
		} else {
			ev.Lat, ev.Lng = nil, nil
		}
		out[i] = ev
	}
	return out
}

// EnrichSpots fills missing spot coordinates. Target: location, else name.
// changed reports whether any spot gained coordinates.
func (r *Resolver) EnrichSpots(ctx context.Context, spots []model.Spot) (out []model.Spot, changed bool) {
	defer r.Flush()
	out = make([]model.Spot, len(spots))
	for i, sp := range spots {
		had := sp.HasCoordinates()
		target := sp.Location
		if target == "" {
			target = sp.Name
		}
		if c, ok := r.resolvePoint(ctx, sp.Lat, sp.Lng, sp.MapLink, target); ok {
			sp.Lat, sp.Lng = c.Point()
			if !had {
				changed = true
			}
		} else {
			sp.Lat, sp.Lng = nil, nil
		}
		out[i] = sp
	}
	return out, changed
}
