package shield

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultMaxKeys bounds the number of tracked keys before expired entries
// are evicted.
const DefaultMaxKeys = 10_000

// Decision is the outcome of a Consume call.
type Decision struct {
	OK                bool
	RetryAfterSeconds int
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window request counter keyed by caller identity.
// Memory is bounded: once more than MaxKeys keys are tracked, expired
// windows are dropped before a new key is inserted.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	maxKeys int
	now     func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithMaxKeys sets the eviction ceiling. Default: 10,000.
func WithMaxKeys(n int) LimiterOption {
	return func(l *Limiter) { l.maxKeys = n }
}

// WithClock sets the clock used by Allow (for testing).
func WithClock(fn func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = fn }
}

// NewLimiter creates an empty Limiter.
func NewLimiter(opts ...LimiterOption) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.maxKeys <= 0 {
		l.maxKeys = DefaultMaxKeys
	}
	return l
}

// Consume counts one request for key against a budget of limit requests per
// window. The window opens on the first request and resets once now reaches
// its end. limit and window are clamped to at least 1 and 1ms. An empty key
// is always rejected.
func (l *Limiter) Consume(key string, limit int, window time.Duration, now time.Time) Decision {
	if limit < 1 {
		limit = 1
	}
	if window < time.Millisecond {
		window = time.Millisecond
	}
	if key == "" {
		return Decision{OK: false, RetryAfterSeconds: ceilSeconds(window)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || !b.resetAt.After(now) {
		if !ok && len(l.buckets) >= l.maxKeys {
			l.evictExpired(now)
		}
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(window)}
		return Decision{OK: true}
	}

	if b.count >= limit {
		retry := ceilSeconds(b.resetAt.Sub(now))
		if retry < 1 {
			retry = 1
		}
		return Decision{OK: false, RetryAfterSeconds: retry}
	}
	b.count++
	return Decision{OK: true}
}

// Allow is Consume with the limiter's clock.
func (l *Limiter) Allow(key string, limit int, window time.Duration) Decision {
	return l.Consume(key, limit, window, l.now())
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) evictExpired(now time.Time) {
	for k, b := range l.buckets {
		if !b.resetAt.After(now) {
			delete(l.buckets, k)
		}
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Rule names an endpoint budget.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// RateLimit returns middleware enforcing rule per client IP. Rejected
// requests get 429 with a JSON body and a Retry-After header. onReject, if
// non-nil, is called for every rejected request.
func RateLimit(l *Limiter, rule Rule, trustProxy bool, onReject func(rule string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trustProxy)
			d := l.Allow("api:"+rule.Name+":"+ip, rule.Limit, rule.Window)
			if d.OK {
				next.ServeHTTP(w, r)
				return
			}

			GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "rule", rule.Name)
			if onReject != nil {
				onReject(rule.Name)
			}

			w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			if err := json.NewEncoder(w).Encode(map[string]string{
				"error": "Too many requests. Please retry shortly.",
			}); err != nil {
				slog.Debug("ratelimit: write response", "error", err)
			}
		})
	}
}
