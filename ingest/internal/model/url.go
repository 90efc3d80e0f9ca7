package model

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// trackingParams are stripped from event URLs before comparison.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid",
}

// IsHTTPURL reports whether s parses as an absolute http(s) URL.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// CanonicalizeEventURL strips tracking parameters and the fragment, drops an
// empty query and removes trailing slashes. Non-http input is returned
// cleaned but otherwise unchanged. The function is idempotent.
func CanonicalizeEventURL(raw string) string {
	v := CleanText(raw)
	if !IsHTTPURL(v) {
		return v
	}
	u, err := url.Parse(v)
	if err != nil {
		return v
	}
	q := u.Query()
	changed := false
	for _, k := range trackingParams {
		if q.Has(k) {
			q.Del(k)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	return strings.TrimRight(u.String(), "/")
}

// ComparableURL lowercases s and removes one trailing slash. It keys the
// RSS cursor per source.
func ComparableURL(s string) string {
	return strings.TrimSuffix(lower(CleanText(s)), "/")
}

// LooksLikeRSS reports whether a source URL should go through the
// newsletter path instead of the ICS path.
func LooksLikeRSS(s string) bool {
	v := lower(CleanText(s))
	if v == "" {
		return false
	}
	return strings.HasSuffix(v, ".xml") || strings.Contains(v, "/rss") || strings.Contains(v, "/feeds/")
}

// PointFromMapURL reads "query=lat,lng" from a maps URL.
func PointFromMapURL(raw string) (Coordinates, bool) {
	if raw == "" {
		return Coordinates{}, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Coordinates{}, false
	}
	parts := strings.Split(u.Query().Get("query"), ",")
	if len(parts) != 2 {
		return Coordinates{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || !finite(lat) || !finite(lng) {
		return Coordinates{}, false
	}
	return Coordinates{Lat: lat, Lng: lng}, true
}

// GoogleSearchLink is the map link used when a place has none.
func GoogleSearchLink(query string) string {
	return "https://www.google.com/maps/search/?api=1&query=" +
		strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
}

var addressStripRe = regexp.MustCompile(`[^\w\s,.-]`)

// NormalizeAddressKey is the geocode cache key for an address: lowercase,
// characters outside [\w\s,.-] removed, whitespace collapsed.
func NormalizeAddressKey(s string) string {
	v := lower(CleanText(s))
	v = addressStripRe.ReplaceAllString(v, "")
	return CleanText(v)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// ValidPoint reports whether both pointers are set and finite.
func ValidPoint(lat, lng *float64) bool {
	return lat != nil && lng != nil && finite(*lat) && finite(*lng)
}
