package ratelimit

import "time"

// Window is a sliding-window message counter: it admits at most max events
// per trailing span. It is not safe for concurrent use; each connection owns
// its own Window and calls it only from its read loop.
type Window struct {
	clock Clock
	max   int
	span  time.Duration
	times []time.Time
}

// NewWindow returns a limiter admitting at most maxPerSecond events in any
// trailing one-second window.
func NewWindow(clock Clock, maxPerSecond int) *Window {
	if clock == nil {
		clock = RealClock{}
	}
	return &Window{
		clock: clock,
		max:   maxPerSecond,
		span:  time.Second,
		times: make([]time.Time, 0, maxPerSecond),
	}
}

// Allow records an event and reports whether it is within the rate cap.
//
// Entries older than the span are evicted from the front before the check;
// the event is rejected, and not recorded, when the window already holds max
// entries. A rejection carries no penalty beyond dropping that event.
func (w *Window) Allow() bool {
	now := w.clock.Now()

	evict := 0
	for evict < len(w.times) && now.Sub(w.times[evict]) > w.span {
		evict++
	}
	if evict > 0 {
		w.times = append(w.times[:0], w.times[evict:]...)
	}

	if len(w.times) >= w.max {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// Len reports the number of events currently inside the window.
func (w *Window) Len() int { return len(w.times) }
