package shield

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is the shared bucket for callers whose IP cannot be trusted.
const UnknownClient = "unknown"

// trustedEdgeHeaders are injected by hosting platforms and cannot be set by
// the client.
var trustedEdgeHeaders = []string{
	"X-Vercel-IP",
	"CF-Connecting-IP",
	"Fly-Client-IP",
	"Fastly-Client-IP",
	"True-Client-IP",
}

// ClientIP returns the rate-limit identity of the caller. Platform edge
// headers are always honoured. X-Forwarded-For (first hop) and X-Real-IP are
// honoured only when trustProxy is set; otherwise callers share the
// "unknown" bucket.
func ClientIP(r *http.Request, trustProxy bool) string {
	for _, h := range trustedEdgeHeaders {
		if ip := normalizeIP(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	if !trustProxy {
		return UnknownClient
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := normalizeIP(first); ip != "" {
			return ip
		}
	}
	if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}

// normalizeIP strips forwarding decorations (for=, quotes, brackets, ports,
// zone ids) and returns a canonical IP string, or "" when value is not an IP.
func normalizeIP(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if len(v) > 4 && strings.EqualFold(v[:4], "for=") {
		v = v[4:]
	}
	v = strings.Trim(v, `"'`)

	switch {
	case strings.HasPrefix(v, "["):
		if end := strings.Index(v, "]"); end > 0 {
			v = v[1:end]
		}
	case strings.Count(v, ":") == 1 && strings.Contains(v, "."):
		if host, _, err := net.SplitHostPort(v); err == nil {
			v = host
		}
	}
	if i := strings.IndexByte(v, '%'); i >= 0 {
		v = v[:i]
	}

	ip := net.ParseIP(v)
	if ip == nil {
		return ""
	}
	return ip.String()
}
