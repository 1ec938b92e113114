// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a deterministic Clock pinned at initial. Time moves only
// through Advance. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.registered = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is the test implementation of Clock. Timers and tickers
// register as pending entries; Advance moves the clock and fires every
// entry whose deadline has passed, in deadline order.
//
// AfterFunc callbacks run synchronously inside Advance. A callback must
// not call Advance or block on something that requires Advance, or the
// test deadlocks.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	entries    []*fakeEntry
	registered *sync.Cond
}

// fakeEntry is one pending timer or ticker.
type fakeEntry struct {
	deadline time.Time
	period   time.Duration // non-zero for tickers
	ch       chan time.Time
	fn       func()
	dead     bool // stopped, or one-shot that already fired
}

// Now returns the fake's current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot entry. A non-positive duration fires
// immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&fakeEntry{deadline: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers a one-shot callback entry. A non-positive duration
// runs f synchronously.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return deadTimer{}
	}
	entry := &fakeEntry{deadline: c.now.Add(d), fn: f}
	c.addLocked(entry)
	c.mu.Unlock()

	return &fakeTimer{clock: c, entry: entry}
}

// NewTicker registers a periodic entry.
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: NewTicker interval must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &fakeEntry{
		deadline: c.now.Add(d),
		period:   d,
		ch:       make(chan time.Time, 1),
	}
	c.addLocked(entry)
	return &fakeTicker{clock: c, entry: entry}
}

func (c *FakeClock) addLocked(entry *fakeEntry) {
	c.entries = append(c.entries, entry)
	c.registered.Broadcast()
}

// Advance moves time forward by d and fires everything due at or before
// the new time. Tickers fire once per elapsed period. Channel sends are
// non-blocking so a lagging consumer drops ticks instead of hanging the
// test.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
		for _, entry := range due {
			if entry.fn != nil {
				entry.fn()
				continue
			}
			select {
			case entry.ch <- target:
			default:
			}
		}
	}
}

// takeDue removes due entries from the pending list, rescheduling
// tickers for their next period.
func (c *FakeClock) takeDue(target time.Time) []*fakeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*fakeEntry
	for _, entry := range c.entries {
		switch {
		case entry.dead:
		case entry.deadline.After(target):
			keep = append(keep, entry)
		default:
			due = append(due, entry)
		}
	}
	for _, entry := range due {
		if entry.period > 0 {
			entry.deadline = entry.deadline.Add(entry.period)
			keep = append(keep, entry)
		} else {
			entry.dead = true
		}
	}
	c.entries = keep
	return due
}

// WaitForTimers blocks until at least n entries are pending. Call this
// before Advance when the timer is registered by another goroutine, so
// the advance cannot race the registration.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.registered.Wait()
	}
}

// Pending returns the number of live pending entries.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, entry := range c.entries {
		if !entry.dead {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock *FakeClock
	entry *fakeEntry
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.entry.dead {
		return false
	}
	t.entry.dead = true
	return true
}

// deadTimer stands in for an AfterFunc that already ran.
type deadTimer struct{}

func (deadTimer) Stop() bool { return false }

type fakeTicker struct {
	clock *FakeClock
	entry *fakeEntry
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.entry.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.entry.dead = true
}
