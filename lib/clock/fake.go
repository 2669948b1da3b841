// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called; pending After, Sleep, and Ticker
// waiters fire when the clock advances past their deadline.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. Time advances only
// via Advance.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

// fakeWaiter is a pending After, Sleep, or Ticker operation.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time

	// interval is non-zero for ticker waiters; after firing, the
	// waiter is rescheduled at deadline + interval.
	interval time.Duration

	stopped bool
	fired   bool
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot waiter firing when the clock advances
// past d from now. If d <= 0 the channel receives immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	return channel
}

// NewTicker registers a repeating waiter.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, waiter)

	return &Ticker{
		C: waiter.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Sleep blocks the calling goroutine until the clock advances past d.
// Another goroutine must call Advance, or Sleep never returns.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the fake time forward by d, firing every waiter whose
// deadline falls within the window, in deadline order. Ticker waiters
// are rescheduled and may fire multiple times in one Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)

	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}

		c.current = next.deadline
		select {
		case next.channel <- next.deadline:
		default:
			// Slow consumer: drop the tick, matching time.Ticker.
		}

		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			next.fired = true
		}
	}

	c.current = target
	c.compactLocked()
}

// nextDueLocked returns the unexpired waiter with the earliest
// deadline at or before target, or nil when none remain.
func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	for _, waiter := range c.waiters {
		if waiter.stopped || waiter.fired {
			continue
		}
		if !waiter.deadline.After(target) {
			return waiter
		}
	}
	return nil
}

// compactLocked drops fired and stopped waiters.
func (c *FakeClock) compactLocked() {
	remaining := c.waiters[:0]
	for _, waiter := range c.waiters {
		if waiter.stopped || waiter.fired {
			continue
		}
		remaining = append(remaining, waiter)
	}
	c.waiters = remaining
}
