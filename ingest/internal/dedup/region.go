package dedup

import (
	"strings"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// NormalizePlaceCoordinates drops lat/lng unless both are finite.
func NormalizePlaceCoordinates(sp model.Spot) model.Spot {
	if !model.ValidPoint(sp.Lat, sp.Lng) {
		sp.Lat, sp.Lng = nil, nil
	}
	return sp
}

// PlaceMergeKey identifies a place across the synced and static lists.
func PlaceMergeKey(sp model.Spot) string {
	if id := strings.ToLower(model.CleanText(sp.ID)); id != "" {
		return "id:" + id
	}
	return strings.ToLower(model.CleanText(sp.Name)) + "|" +
		strings.ToLower(model.CleanText(sp.Location)) + "|" +
		strings.ToLower(model.CleanText(sp.Tag))
}

// MergeRegionPlaces layers the avoid/safe overlays of static over base.
// An overlay matching a base entry replaces its fields; coordinates and
// boundary are only taken from the overlay when it carries them. Order is
// base order, then new overlays.
func MergeRegionPlaces(base, static []model.Spot) []model.Spot {
	index := make(map[string]int, len(base)+len(static))
	out := make([]model.Spot, 0, len(base)+len(static))
	for _, sp := range base {
		sp = NormalizePlaceCoordinates(sp)
		key := PlaceMergeKey(sp)
		if i, ok := index[key]; ok {
			out[i] = sp
			continue
		}
		index[key] = len(out)
		out = append(out, sp)
	}

	for _, region := range static {
		if !region.IsRegionOverlay() {
			continue
		}
		region = NormalizePlaceCoordinates(region)
		key := PlaceMergeKey(region)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, region)
			continue
		}
		existing := out[i]
		merged := region
		if !region.HasCoordinates() {
			merged.Lat, merged.Lng = existing.Lat, existing.Lng
		}
		if region.Boundary == nil {
			merged.Boundary = existing.Boundary
		}
		out[i] = merged
	}
	return out
}
