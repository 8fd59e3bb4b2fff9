package ratelimit

import (
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

func TestWindow_CapWithinOneSecond(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewWindow(clk, 3)

	for i := 0; i < 3; i++ {
		if !w.Allow() {
			t.Fatalf("event %d unexpectedly rejected", i)
		}
		clk.Advance(10 * time.Millisecond)
	}
	if w.Allow() {
		t.Fatalf("expected 4th event inside the window to be rejected")
	}
	// A rejected event is not recorded; the window still holds 3 entries.
	if got := w.Len(); got != 3 {
		t.Fatalf("window len = %d, want 3", got)
	}
}

func TestWindow_SlidesForward(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewWindow(clk, 2)

	if !w.Allow() || !w.Allow() {
		t.Fatalf("expected initial burst to pass")
	}
	if w.Allow() {
		t.Fatalf("expected cap to hold")
	}

	// Slightly over one second: both earlier entries fall out of the window.
	clk.Advance(1100 * time.Millisecond)
	if !w.Allow() {
		t.Fatalf("expected allowance after window slid past old entries")
	}
	if got := w.Len(); got != 1 {
		t.Fatalf("window len = %d, want 1", got)
	}
}

func TestWindow_EntryExactlyOneSecondOldStillCounts(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewWindow(clk, 1)

	if !w.Allow() {
		t.Fatalf("expected first event")
	}
	// Eviction requires age strictly greater than the span.
	clk.Advance(time.Second)
	if w.Allow() {
		t.Fatalf("entry aged exactly 1s should still occupy the window")
	}
	clk.Advance(time.Nanosecond)
	if !w.Allow() {
		t.Fatalf("entry aged just over 1s should have been evicted")
	}
}

func TestWindow_RecoversEverySecond(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewWindow(clk, 50)

	for i := 0; i < 50; i++ {
		if !w.Allow() {
			t.Fatalf("event %d unexpectedly rejected", i)
		}
	}
	if w.Allow() {
		t.Fatalf("expected 51st event to be rejected")
	}

	clk.Advance(1100 * time.Millisecond)
	for i := 0; i < 50; i++ {
		if !w.Allow() {
			t.Fatalf("event %d after recovery unexpectedly rejected", i)
		}
	}
}
