package ratelimit

import (
	"context"
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

func newClock() *fakeClock { return &fakeClock{now: time.UnixMilli(1_700_000_000_000)} }

func TestMemory_InclusiveBoundary(t *testing.T) {
	clk := newClock()
	l := NewMemory(WithClock(clk.Now))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := l.Allow(ctx, "account:a", 5, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if res.Remaining != 5-i {
			t.Fatalf("call %d remaining = %d, want %d", i, res.Remaining, 5-i)
		}
		clk.Advance(time.Millisecond)
	}

	res, _ := l.Allow(ctx, "account:a", 5, time.Second)
	if res.Allowed {
		t.Fatal("6th call should be denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", res.Remaining)
	}
}

func TestMemory_WindowReset(t *testing.T) {
	clk := newClock()
	l := NewMemory(WithClock(clk.Now))
	ctx := context.Background()

	first, _ := l.Allow(ctx, "k", 1, time.Second)
	if !first.Allowed {
		t.Fatal("first call should be allowed")
	}
	if want := clk.Now().Add(time.Second); !first.ResetAt.Equal(want) {
		t.Fatalf("reset = %v, want %v", first.ResetAt, want)
	}

	clk.Advance(500 * time.Millisecond)
	if res, _ := l.Allow(ctx, "k", 1, time.Second); res.Allowed {
		t.Fatal("second call inside the window should be denied")
	}

	// Both earlier entries leave the window.
	clk.Advance(1001 * time.Millisecond)
	if res, _ := l.Allow(ctx, "k", 1, time.Second); !res.Allowed {
		t.Fatal("call after the window should be allowed")
	}
}

func TestMemory_DeniedCallsCount(t *testing.T) {
	clk := newClock()
	l := NewMemory(WithClock(clk.Now))
	ctx := context.Background()

	l.Allow(ctx, "k", 1, time.Second)
	clk.Advance(900 * time.Millisecond)
	l.Allow(ctx, "k", 1, time.Second) // denied, still recorded

	// First entry expired, the denied one has not.
	clk.Advance(200 * time.Millisecond)
	if res, _ := l.Allow(ctx, "k", 1, time.Second); res.Allowed {
		t.Fatal("denied entry should still occupy the window")
	}
}

func TestMemory_KeysIndependent(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	l.Allow(ctx, "a", 1, time.Minute)
	if res, _ := l.Allow(ctx, "b", 1, time.Minute); !res.Allowed {
		t.Fatal("key b should not be affected by key a")
	}
}

func TestMemory_Cleanup(t *testing.T) {
	clk := newClock()
	l := NewMemory(WithClock(clk.Now))
	ctx := context.Background()

	l.Allow(ctx, "a", 1, time.Second)
	clk.Advance(time.Second)
	if n := l.Cleanup(); n != 0 {
		t.Fatalf("evicted %d keys inside grace period", n)
	}

	clk.Advance(Grace + time.Millisecond)
	if n := l.Cleanup(); n != 1 {
		t.Fatalf("evicted %d keys, want 1", n)
	}
	if l.Len() != 0 {
		t.Fatalf("len = %d, want 0", l.Len())
	}
}

func TestMemory_Concurrent(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := l.Allow(ctx, "hot", 10, time.Minute)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("allowed = %d, want 10", allowed)
	}
}

func TestResultResetSeconds(t *testing.T) {
	r := Result{ResetAt: time.UnixMilli(1_700_000_000_001)}
	if got := r.ResetSeconds(); got != 1_700_000_001 {
		t.Fatalf("ResetSeconds = %d", got)
	}
	r = Result{ResetAt: time.UnixMilli(1_700_000_000_000)}
	if got := r.ResetSeconds(); got != 1_700_000_000 {
		t.Fatalf("ResetSeconds = %d", got)
	}
}
