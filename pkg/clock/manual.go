package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Clock that only moves when Advance or Set is called.
// Callbacks run synchronously inside Advance, in deadline order, after the
// clock's lock is released, so they may schedule further callbacks.
//
// Thread-safe for concurrent use.
type Manual struct {
	mu      sync.Mutex
	current time.Time
	seq     uint64
	waiters []*manualTimer
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	seq      uint64
	f        func()
	fired    bool
	stopped  bool
}

// NewManual creates a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{current: start}
}

// Now returns the current manual time.
func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock reaches Now()+d. Zero or
// negative durations fire on the next Advance (including Advance(0)).
func (c *Manual) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	c.seq++
	t := &manualTimer{clock: c, deadline: c.current.Add(d), seq: c.seq, f: f}
	c.waiters = append(c.waiters, t)
	return t
}

// Stop cancels the callback if it has not fired.
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing every callback that becomes
// due, including callbacks scheduled by callbacks within the window.
// Panics if d is negative.
func (c *Manual) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: cannot advance by negative duration")
	}
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()
	c.runUntil(target)
}

// Set moves the clock to t, firing due callbacks. Panics if t is in the past.
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	if t.Before(c.current) {
		c.mu.Unlock()
		panic("clock: cannot set time to the past")
	}
	c.mu.Unlock()
	c.runUntil(t)
}

// Pending returns the number of callbacks that have neither fired nor been stopped.
func (c *Manual) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.fired && !w.stopped {
			n++
		}
	}
	return n
}

// NextDelay returns the time until the earliest pending callback.
func (c *Manual) NextDelay() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.nextLocked(time.Time{}, false)
	if next == nil {
		return 0, false
	}
	return next.deadline.Sub(c.current), true
}

func (c *Manual) runUntil(target time.Time) {
	for {
		c.mu.Lock()
		next := c.nextLocked(target, true)
		if next == nil {
			c.current = target
			c.prune()
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

// nextLocked returns the earliest live waiter, optionally bounded by limit.
// Must be called with c.mu held.
func (c *Manual) nextLocked(limit time.Time, bounded bool) *manualTimer {
	live := make([]*manualTimer, 0, len(c.waiters))
	for _, w := range c.waiters {
		if w.fired || w.stopped {
			continue
		}
		if bounded && w.deadline.After(limit) {
			continue
		}
		live = append(live, w)
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].deadline.Equal(live[j].deadline) {
			return live[i].seq < live[j].seq
		}
		return live[i].deadline.Before(live[j].deadline)
	})
	return live[0]
}

// prune drops fired and stopped waiters. Must be called with c.mu held.
func (c *Manual) prune() {
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.fired && !w.stopped {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}
