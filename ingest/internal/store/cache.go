package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// GetGeocode returns the durable coordinates for an address key.
func (s *Store) GetGeocode(ctx context.Context, key string) (model.Coordinates, bool, error) {
	var c model.Coordinates
	err := s.DB.QueryRowContext(ctx,
		`SELECT lat, lng FROM geocode_cache WHERE address_key = ?`, key).Scan(&c.Lat, &c.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Coordinates{}, false, nil
	}
	if err != nil {
		return model.Coordinates{}, false, fmt.Errorf("store: get geocode: %w", err)
	}
	return c, true, nil
}

// UpsertGeocode stores the coordinates of an address.
func (s *Store) UpsertGeocode(ctx context.Context, key, addressText string, c model.Coordinates) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO geocode_cache (address_key, address_text, lat, lng, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address_key) DO UPDATE SET address_text = excluded.address_text,
			lat = excluded.lat, lng = excluded.lng, updated_at = excluded.updated_at`,
		key, addressText, c.Lat, c.Lng, s.stamp())
	if err != nil {
		return fmt.Errorf("store: upsert geocode: %w", err)
	}
	return nil
}

// GetRoute returns the durable route stored under key.
func (s *Store) GetRoute(ctx context.Context, key string) (model.Route, bool, error) {
	var r model.Route
	err := s.DB.QueryRowContext(ctx,
		`SELECT encoded_polyline, total_distance_meters, total_duration_seconds, updated_at
		FROM route_cache WHERE key = ?`, key).
		Scan(&r.EncodedPolyline, &r.TotalDistanceMeters, &r.TotalDurationSeconds, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, false, nil
	}
	if err != nil {
		return model.Route{}, false, fmt.Errorf("store: get route: %w", err)
	}
	return r, true, nil
}

// UpsertRoute stores r under key.
func (s *Store) UpsertRoute(ctx context.Context, key string, r model.Route) error {
	updated := r.UpdatedAt
	if updated == "" {
		updated = s.stamp()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO route_cache (key, encoded_polyline, total_distance_meters, total_duration_seconds, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET encoded_polyline = excluded.encoded_polyline,
			total_distance_meters = excluded.total_distance_meters,
			total_duration_seconds = excluded.total_duration_seconds,
			updated_at = excluded.updated_at`,
		key, r.EncodedPolyline, r.TotalDistanceMeters, r.TotalDurationSeconds, updated)
	if err != nil {
		return fmt.Errorf("store: upsert route: %w", err)
	}
	return nil
}
