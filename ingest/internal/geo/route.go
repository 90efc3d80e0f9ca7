package geo

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"
	"unicode"

	"github.com/hazyhaar/tripsync/ingest/internal/localcache"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// DefaultRouteCacheMax is the memory tier size that triggers a clear.
const DefaultRouteCacheMax = 4000

// MaxRouteKeyLen bounds route cache keys.
const MaxRouteKeyLen = 512

// ErrInvalidRoute is returned when a key or payload cannot be cached.
var ErrInvalidRoute = errors.New("geo: invalid route cache entry")

// RouteStore is the durable route tier.
type RouteStore interface {
	GetRoute(ctx context.Context, key string) (model.Route, bool, error)
	UpsertRoute(ctx context.Context, key string, r model.Route) error
}

// RouteCache holds computed planner routes. Tiers: memory, then
// route-cache.json, then the durable store. Safe for concurrent use.
type RouteCache struct {
	store  RouteStore
	files  *localcache.Storage
	logger *slog.Logger
	max    int
	now    func() time.Time

	hydrate sync.Once
	mu      sync.Mutex
	mem     map[string]model.Route
}

// RouteOption configures a RouteCache.
type RouteOption func(*RouteCache)

// WithRouteStore sets the durable tier.
func WithRouteStore(s RouteStore) RouteOption { return func(c *RouteCache) { c.store = s } }

// WithRouteFiles sets the local file tier.
func WithRouteFiles(s *localcache.Storage) RouteOption { return func(c *RouteCache) { c.files = s } }

// WithRouteMax sets the clear threshold. Default: 4000.
func WithRouteMax(n int) RouteOption { return func(c *RouteCache) { c.max = n } }

// WithRouteLogger sets the logger.
func WithRouteLogger(l *slog.Logger) RouteOption { return func(c *RouteCache) { c.logger = l } }

// WithRouteClock sets the clock stamping UpdatedAt (for testing).
func WithRouteClock(fn func() time.Time) RouteOption { return func(c *RouteCache) { c.now = fn } }

// NewRouteCache creates a RouteCache.
func NewRouteCache(opts ...RouteOption) *RouteCache {
	c := &RouteCache{
		logger: slog.Default(),
		max:    DefaultRouteCacheMax,
		now:    time.Now,
		mem:    make(map[string]model.Route),
	}
	for _, o := range opts {
		o(c)
	}
	if c.max <= 0 {
		c.max = DefaultRouteCacheMax
	}
	return c
}

// ValidRouteKey reports whether key can be cached: non-empty, bounded, no
// control characters.
func ValidRouteKey(key string) bool {
	if key == "" || len(key) > MaxRouteKeyLen {
		return false
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func (c *RouteCache) load() {
	c.hydrate.Do(func() {
		if c.files == nil {
			return
		}
		var raw map[string]model.Route
		if err := c.files.ReadJSON(localcache.RouteCacheFile, &raw); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("geo: route cache unreadable", "error", err)
			}
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		for k, r := range raw {
			r = r.Sanitize()
			if !ValidRouteKey(k) || r.EncodedPolyline == "" {
				continue
			}
			c.mem[k] = r
		}
	})
}

// put stores r in memory, clearing the map first when it is full.
func (c *RouteCache) put(key string, r model.Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mem[key]; !exists && len(c.mem) >= c.max {
		c.logger.Info("geo: route cache cleared", "entries", len(c.mem))
		c.mem = make(map[string]model.Route)
	}
	c.mem[key] = r
}

func (c *RouteCache) persist() {
	if c.files == nil {
		return
	}
	c.mu.Lock()
	snapshot := make(map[string]model.Route, len(c.mem))
	for k, v := range c.mem {
		snapshot[k] = v
	}
	c.mu.Unlock()
	if _, err := c.files.WriteJSON(localcache.RouteCacheFile, snapshot); err != nil {
		c.logger.Warn("geo: route cache write failed", "error", err)
	}
}

// Len returns the number of routes held in memory.
func (c *RouteCache) Len() int {
	c.load()
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mem)
}

// Get returns the cached route for key. A durable hit is copied into the
// memory and file tiers.
func (c *RouteCache) Get(ctx context.Context, key string) (model.Route, bool) {
	if !ValidRouteKey(key) {
		return model.Route{}, false
	}
	c.load()

	c.mu.Lock()
	r, ok := c.mem[key]
	c.mu.Unlock()
	if ok && r.EncodedPolyline != "" {
		return r, true
	}

	if c.store == nil {
		return model.Route{}, false
	}
	r, ok, err := c.store.GetRoute(ctx, key)
	if err != nil {
		c.logger.Warn("geo: durable route read failed", "key", key, "error", err)
		return model.Route{}, false
	}
	if !ok {
		return model.Route{}, false
	}
	r = r.Sanitize()
	if r.EncodedPolyline == "" {
		return model.Route{}, false
	}
	c.put(key, r)
	c.persist()
	return r, true
}

// Save stores r under key in every tier. It returns ErrInvalidRoute when
// the key is invalid or the polyline is empty. Durable write failures are
// logged and do not fail the call.
func (c *RouteCache) Save(ctx context.Context, key string, r model.Route) (model.Route, error) {
	if !ValidRouteKey(key) {
		return model.Route{}, ErrInvalidRoute
	}
	r = r.Sanitize()
	if r.EncodedPolyline == "" {
		return model.Route{}, ErrInvalidRoute
	}
	r.UpdatedAt = model.FormatTime(c.now())
	c.load()
	c.put(key, r)
	c.persist()

	if c.store != nil {
		if err := c.store.UpsertRoute(ctx, key, r); err != nil {
			c.logger.Warn("geo: durable route write failed", "key", key, "error", err)
		}
	}
	return r, nil
}
