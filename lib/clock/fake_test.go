// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNowAdvances(t *testing.T) {
	start := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	fake := Fake(start)

	if !fake.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", fake.Now(), start)
	}

	fake.Advance(90 * time.Second)
	if !fake.Now().Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now() after Advance = %v", fake.Now())
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	done := fake.After(time.Minute)

	select {
	case <-done:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(time.Minute)

	select {
	case fired := <-done:
		if !fired.Equal(time.Unix(60, 0)) {
			t.Errorf("fired at %v, want %v", fired, time.Unix(60, 0))
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFakeAfterImmediateForNonPositive(t *testing.T) {
	fake := Fake(time.Unix(100, 0))

	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	fake.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire on first interval")
	}

	fake.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire on second interval")
	}
}

func TestFakeTickerStops(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	ticker := fake.NewTicker(time.Second)
	ticker.Stop()

	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeSleepBlocksUntilAdvance(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	woke := make(chan struct{})
	go func() {
		fake.Sleep(time.Minute)
		close(woke)
	}()

	// Give the sleeper a chance to register.
	for i := 0; i < 100; i++ {
		fake.mu.Lock()
		registered := len(fake.waiters) > 0
		fake.mu.Unlock()
		if registered {
			break
		}
		time.Sleep(time.Millisecond)
	}

	fake.Advance(time.Minute)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
