package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hazyhaar/tripsync/horosafe"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// GoogleGeocodeURL is the Geocoding API endpoint.
const GoogleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleProvider geocodes through the Google Geocoding API.
type GoogleProvider struct {
	Key      string
	Endpoint string // Default: GoogleGeocodeURL.
	HTTP     *http.Client
}

// NewGoogleProvider returns nil when key is empty, which disables the
// provider tier.
func NewGoogleProvider(key string) *GoogleProvider {
	if key == "" {
		return nil
	}
	return &GoogleProvider{Key: key}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat *float64 `json:"lat"`
				Lng *float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode looks up address. A non-OK status or a result without a finite
// location is a miss, not an error; transport failures and non-2xx
// responses are errors.
func (g *GoogleProvider) Geocode(ctx context.Context, address string) (model.Coordinates, bool, error) {
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = GoogleGeocodeURL
	}
	client := g.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	q := url.Values{}
	q.Set("address", model.CleanText(address))
	q.Set("key", g.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return model.Coordinates{}, false, fmt.Errorf("geo: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.Coordinates{}, false, fmt.Errorf("geo: http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Coordinates{}, false, fmt.Errorf("geo: http %d", resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, 1<<20)
	if err != nil {
		return model.Coordinates{}, false, fmt.Errorf("geo: read body: %w", err)
	}
	var payload geocodeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Coordinates{}, false, fmt.Errorf("geo: decode: %w", err)
	}
	if payload.Status != "OK" || len(payload.Results) == 0 {
		return model.Coordinates{}, false, nil
	}
	loc := payload.Results[0].Geometry.Location
	if !model.ValidPoint(loc.Lat, loc.Lng) {
		return model.Coordinates{}, false, nil
	}
	return model.Coordinates{Lat: *loc.Lat, Lng: *loc.Lng}, true, nil
}
