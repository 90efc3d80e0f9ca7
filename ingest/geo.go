package ingest

import (
	"context"
	"errors"

	"github.com/hazyhaar/tripsync/ingest/internal/geo"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// Geocode resolves a free-text address through the cache tiers. The input
// is cleaned and capped at MaxAddressLen runes.
func (s *Service) Geocode(ctx context.Context, address string) (Coordinates, error) {
	address = model.Truncate(model.CleanText(address), MaxAddressLen)
	if address == "" {
		return Coordinates{}, invalid(MsgAddressRequired)
	}
	c, ok := s.resolver.Resolve(ctx, address)
	if !ok {
		return Coordinates{}, notFound(MsgGeocodeMiss)
	}
	return c, nil
}

// GetRoute returns the cached route for key.
func (s *Service) GetRoute(ctx context.Context, key string) (Route, bool, error) {
	if !geo.ValidRouteKey(key) {
		return Route{}, false, invalid(MsgBadRouteKey)
	}
	r, ok := s.routes.Get(ctx, key)
	return r, ok, nil
}

// SaveRoute stores a route under key and returns the sanitized entry.
func (s *Service) SaveRoute(ctx context.Context, key string, r Route) (Route, error) {
	if !geo.ValidRouteKey(key) {
		return Route{}, invalid(MsgBadRouteKey)
	}
	saved, err := s.routes.Save(ctx, key, r)
	if errors.Is(err, geo.ErrInvalidRoute) {
		return Route{}, invalid(MsgBadRoute)
	}
	if err != nil {
		return Route{}, err
	}
	return saved, nil
}
