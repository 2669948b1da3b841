// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject Fake() with deterministic time
// control. Components that need the current time, a delay, or a
// ticker take a Clock rather than calling the time package directly.
package clock

import "time"

// Clock provides the time operations peerlog components depend on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on its C channel at
	// the given interval. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. Read ticks from C; call Stop to
// release resources. C has capacity 1, matching time.Ticker: if the
// consumer falls behind, ticks are dropped rather than queued.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No more ticks are sent on C after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
