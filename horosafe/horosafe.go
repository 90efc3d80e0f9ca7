// Package horosafe decides whether an outbound URL is safe to fetch from the
// ingestion engine: http(s) only, public internet only (SSRF prevention).
//
// Validate is a syntactic check (scheme, hostname suffixes, literal IPs).
// ValidateForFetch additionally resolves the hostname and rejects the URL if
// any resolved address is private, which defeats DNS names that point at
// internal ranges.
package horosafe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// MaxResponseBody is the default cap for HTTP response body reads (10 MiB).
const MaxResponseBody int64 = 10 << 20

// User-facing validation messages.
const (
	MsgRequired     = "Source URL is required."
	MsgInvalid      = "Invalid source URL."
	MsgScheme       = "Source URL must use http(s)."
	MsgPrivate      = "Source URL must target the public internet."
	MsgUnresolvable = "Source URL hostname could not be resolved."
)

// ErrSSRF is returned when a URL targets a private/loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrInvalidURL is returned for empty, unparseable or unresolvable URLs.
var ErrInvalidURL = errors.New("horosafe: invalid URL")

// Result is the outcome of a URL safety check.
type Result struct {
	OK           bool
	CanonicalURL string
	Message      string // user-facing reason when !OK
	Err          error  // wraps one of the sentinel errors when !OK
}

// Error implements a convenience accessor so a failed Result can be returned
// where an error is expected.
func (r Result) Error() error {
	if r.OK {
		return nil
	}
	return r.Err
}

func reject(msg string, sentinel error) Result {
	return Result{Message: msg, Err: fmt.Errorf("%w: %s", sentinel, msg)}
}

// LookupFunc resolves a hostname to textual IP addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Validator checks URLs. The zero value uses the system resolver.
type Validator struct {
	// Lookup resolves hostnames for ValidateForFetch. Default: net.DefaultResolver.
	Lookup LookupFunc
}

// Default is the process-wide validator backed by the system resolver.
var Default = &Validator{}

// Validate runs the syntactic check with the Default validator.
func Validate(rawURL string) Result { return Default.Validate(rawURL) }

// ValidateForFetch runs the DNS-confirmed check with the Default validator.
func ValidateForFetch(ctx context.Context, rawURL string) Result {
	return Default.ValidateForFetch(ctx, rawURL)
}

// Validate parses rawURL and rejects non-http(s) schemes and private hosts.
// No network access is performed.
func (v *Validator) Validate(rawURL string) Result {
	value := strings.TrimSpace(rawURL)
	if value == "" {
		return reject(MsgRequired, ErrInvalidURL)
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" && u.Opaque == "" && u.Scheme == "" {
		return reject(MsgInvalid, ErrInvalidURL)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return reject(MsgScheme, ErrUnsafeScheme)
	}
	if IsPrivateHost(u.Hostname()) {
		return reject(MsgPrivate, ErrSSRF)
	}
	return Result{OK: true, CanonicalURL: u.String()}
}

// ValidateForFetch runs Validate, then resolves the hostname and rejects the
// URL when resolution fails or any address is private.
func (v *Validator) ValidateForFetch(ctx context.Context, rawURL string) Result {
	res := v.Validate(rawURL)
	if !res.OK {
		return res
	}
	u, err := url.Parse(res.CanonicalURL)
	if err != nil {
		return reject(MsgInvalid, ErrInvalidURL)
	}
	host := normalizeHost(u.Hostname())
	if net.ParseIP(host) != nil {
		return res
	}

	lookup := v.Lookup
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	addrs, err := lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		return reject(MsgUnresolvable, ErrInvalidURL)
	}
	for _, a := range addrs {
		if isPrivateAddress(a) {
			return reject(MsgPrivate, ErrSSRF)
		}
	}
	return res
}

// CheckURL adapts ValidateForFetch to the error-returning shape used by
// fetchers to vet the initial URL and every redirect hop. ctx bounds the
// DNS lookup.
func (v *Validator) CheckURL(ctx context.Context, rawURL string) error {
	return v.ValidateForFetch(ctx, rawURL).Error()
}

// IsPrivateHost reports whether host (a hostname or literal IP, optionally
// bracketed) must not be fetched. An empty host is private.
func IsPrivateHost(host string) bool {
	h := normalizeHost(host)
	if h == "" {
		return true
	}
	if h == "localhost" || strings.HasSuffix(h, ".localhost") ||
		strings.HasSuffix(h, ".local") || strings.HasSuffix(h, ".internal") {
		return true
	}
	return isPrivateAddress(h)
}

func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	h = strings.TrimSuffix(h, ".")
	if h == "" || strings.Contains(h, ":") {
		return h
	}
	if ascii, err := idna.Lookup.ToASCII(h); err == nil {
		return ascii
	}
	return h
}

// isPrivateAddress classifies a literal address. Non-IP strings are public.
func isPrivateAddress(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	if i := strings.IndexByte(a, '%'); i >= 0 {
		a = a[:i]
	}
	if strings.HasPrefix(a, "::ffff:") {
		return isPrivateIPv4Mapped(strings.TrimPrefix(a, "::ffff:"))
	}
	ip := net.ParseIP(a)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		return isPrivateIPv4(v4)
	}
	return isPrivateIPv6(ip)
}

func isPrivateIPv4Mapped(tail string) bool {
	if ip := net.ParseIP(tail); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return isPrivateIPv4(v4)
		}
	}
	// Hex form: ::ffff:7f00:1
	parts := strings.Split(tail, ":")
	if len(parts) != 2 {
		return true
	}
	var hi, lo uint16
	if _, err := fmt.Sscanf(parts[0], "%x", &hi); err != nil {
		return true
	}
	if _, err := fmt.Sscanf(parts[1], "%x", &lo); err != nil {
		return true
	}
	return isPrivateIPv4(net.IPv4(byte(hi>>8), byte(hi), byte(lo>>8), byte(lo)).To4())
}

func isPrivateIPv4(ip net.IP) bool {
	a, b := ip[0], ip[1]
	switch {
	case a == 0:
		return true
	case a == 10:
		return true
	case a == 100 && b >= 64 && b <= 127:
		return true
	case a == 127:
		return true
	case a == 169 && b == 254:
		return true
	case a == 172 && b >= 16 && b <= 31:
		return true
	case a == 192 && b == 168:
		return true
	case a >= 224:
		return true
	}
	return false
}

func isPrivateIPv6(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsLoopback() {
		return true
	}
	// fc00::/7 unique-local, fe80::/10 link-local.
	if ip[0]&0xfe == 0xfc {
		return true
	}
	if ip[0] == 0xfe && ip[1]&0xc0 == 0x80 {
		return true
	}
	return false
}

// LimitedReadAll reads at most maxBytes from r. Returns an error if the limit
// is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}
