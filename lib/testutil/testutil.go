// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds shared test helpers.
//
// The receive/send helpers wrap the select-with-deadline pattern so
// individual tests never hang forever on a channel that, under a bug,
// nothing will ever write to. These are the only real wall-clock waits
// in the test suite; everything timer-driven goes through a fake
// lib/clock.
package testutil

import (
	"testing"
	"time"
)

// Receive reads one value from ch or fails the test after timeout.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while %s", what)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, what)
	}
	panic("unreachable")
}

// Send writes v to ch or fails the test after timeout.
func Send[T any](t *testing.T, ch chan<- T, v T, timeout time.Duration, what string) {
	t.Helper()
	select {
	case ch <- v:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, what)
	}
}

// Closed waits for ch to close (or yield a value) or fails the test
// after timeout. Use for done-style channels that signal by closing.
func Closed(t *testing.T, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for close: %s", timeout, what)
	}
}

// NeverCloses asserts ch stays open for the whole window. Use to pin
// down "no reconnect was scheduled" style negatives; keep the window
// short.
func NeverCloses(t *testing.T, ch <-chan struct{}, window time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("channel closed but must not have: %s", what)
	case <-time.After(window):
	}
}
