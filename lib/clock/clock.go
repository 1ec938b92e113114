// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the channel's timer-driven code.
//
// Everything in the channel layer that would call time.Now, time.After,
// time.AfterFunc, or time.NewTicker takes a Clock instead: Real() in
// production, Fake() in tests. The fake advances only on demand, which
// turns handshake timeouts, request timeouts, heartbeats, subscription
// expiry, and reconnect backoff into deterministic assertions instead of
// sleeps.
package clock

import "time"

// Clock is the subset of the time package the channel layer needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed. Stop
	// the returned Timer to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker delivers ticks on Chan() every d. Panics if d <= 0.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable pending AfterFunc call.
type Timer interface {
	// Stop cancels the pending call. Reports whether the call was still
	// pending (false when it already ran or was already stopped).
	Stop() bool
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	// Chan returns the tick channel. Capacity 1; ticks are dropped, not
	// queued, when the consumer lags (matching time.Ticker).
	Chan() <-chan time.Time

	// Stop ends tick delivery. Does not close the channel.
	Stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t realTicker) Chan() <-chan time.Time { return t.ticker.C }
func (t realTicker) Stop()                  { t.ticker.Stop() }
