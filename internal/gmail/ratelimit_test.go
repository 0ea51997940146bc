package gmail

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock provides deterministic time control for limiter tests.
// After fires immediately so Acquire loops never sleep for real.
type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

func TestOperationCost(t *testing.T) {
	tests := []struct {
		op   Operation
		want int
	}{
		{OpProfile, 1},
		{OpMessagesList, 5},
		{OpMessagesGet, 5},
		{OpMessagesModify, 5},
		{OpDraftsCreate, 10},
		{OpMessagesSend, 100},
	}
	for _, tt := range tests {
		if got := tt.op.Cost(); got != tt.want {
			t.Errorf("%s.Cost() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestAcquireImmediateWhenTokensAvailable(t *testing.T) {
	clk := newFakeClock()
	rl := newRateLimiter(clk, 5.0)

	ctx := context.Background()
	if err := rl.Acquire(ctx, OpMessagesGet); err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if got := rl.Available(); got != DefaultCapacity-5 {
		t.Errorf("Available() = %v, want %v", got, DefaultCapacity-5.0)
	}
}

func TestAcquireWaitsOnEmptyBucket(t *testing.T) {
	clk := newFakeClock()
	rl := newRateLimiter(clk, 5.0)

	ctx := context.Background()
	// Drain the bucket. Capacity 250, send costs 100.
	for i := 0; i < 2; i++ {
		if err := rl.Acquire(ctx, OpMessagesSend); err != nil {
			t.Fatalf("Acquire() failed: %v", err)
		}
	}
	if wait := rl.reserve(OpMessagesSend); wait == 0 {
		t.Error("reserve() should report a wait with insufficient tokens")
	}

	// After enough simulated time the tokens refill.
	clk.Advance(time.Second)
	if err := rl.Acquire(ctx, OpMessagesSend); err != nil {
		t.Fatalf("Acquire() after refill failed: %v", err)
	}
}

// blockedClock never fires its timers, forcing Acquire to wait on the context.
type blockedClock struct {
	now time.Time
}

func (c blockedClock) Now() time.Time                       { return c.now }
func (c blockedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestAcquireRespectsContext(t *testing.T) {
	rl := newRateLimiter(blockedClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}, 5.0)

	rl.Throttle(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Acquire(ctx, OpMessagesGet); err != context.Canceled {
		t.Errorf("Acquire() = %v, want context.Canceled", err)
	}
}

func TestThrottleDrainsAndBlocks(t *testing.T) {
	clk := newFakeClock()
	rl := newRateLimiter(clk, 5.0)

	rl.Throttle(30 * time.Second)

	if got := rl.Available(); got != 0 {
		t.Errorf("Available() after throttle = %v, want 0", got)
	}
	if wait := rl.reserve(OpMessagesGet); wait == 0 {
		t.Error("reserve() during throttle should report a wait")
	}

	// Past the throttle window tokens accrue again.
	clk.Advance(31 * time.Second)
	clk.Advance(time.Second)
	if got := rl.Available(); got == 0 {
		t.Error("Available() should recover after throttle expires")
	}
}

func TestThrottleDoesNotShorten(t *testing.T) {
	clk := newFakeClock()
	rl := newRateLimiter(clk, 5.0)

	rl.Throttle(60 * time.Second)
	first := rl.throttledUntil
	rl.Throttle(10 * time.Second)
	if rl.throttledUntil.Before(first) {
		t.Error("shorter Throttle() must not shrink an existing window")
	}
}

func TestQPSClampedToMinimum(t *testing.T) {
	clk := newFakeClock()
	rl := newRateLimiter(clk, 0)
	if rl.refillRate <= 0 {
		t.Errorf("refillRate = %v, want > 0", rl.refillRate)
	}
}
