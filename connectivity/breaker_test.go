package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(
		WithBreakerThreshold(3),
		WithBreakerResetTimeout(100*time.Millisecond),
		WithBreakerHalfOpenMax(1),
		WithBreakerClock(clk.Now),
	)

	if cb.State() != BreakerClosed {
		t.Fatalf("initial state = %v", cb.State())
	}
	for range 3 {
		cb.RecordFailure()
	}
	if cb.State() != BreakerOpen || cb.Allow() {
		t.Fatalf("after 3 failures: state = %v", cb.State())
	}

	clk.Advance(150 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("after reset timeout: state = %v", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("after half-open success: state = %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(50*time.Millisecond),
		WithBreakerClock(clk.Now),
	)
	cb.RecordFailure()
	clk.Advance(60 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half_open", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_Do(t *testing.T) {
	// WHAT: Once open, Do rejects without calling the provider.
	// WHY: A geocoding outage must not cost one timeout per event.
	cb := NewCircuitBreaker(WithBreakerThreshold(2))
	calls := 0
	boom := errors.New("upstream 503")
	fail := func(context.Context) error { calls++; return boom }

	ctx := context.Background()
	for range 2 {
		if err := cb.Do(ctx, "geocode", fail); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	}
	err := cb.Do(ctx, "geocode", fail)
	var open *ErrCircuitOpen
	if !errors.As(err, &open) || open.Service != "geocode" {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestCircuitBreaker_DoIgnoresCallerCancel(t *testing.T) {
	// WHAT: A cancelled caller context is not a provider failure.
	// WHY: Shutdown mid-sync must not trip the breaker.
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = cb.Do(ctx, "geocode", func(ctx context.Context) error { return ctx.Err() })
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(2))
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}
