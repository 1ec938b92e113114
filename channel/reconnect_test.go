// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"testing"
	"time"
)

func TestReconnectDelaysDoubleUpToCap(t *testing.T) {
	r := newReconnector(ReconnectPolicy{
		BaseInterval: time.Second,
		MaxInterval:  10 * time.Second,
		MaxAttempts:  6,
		JitterFactor: 0,
	})

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, expected := range want {
		delay, ok := r.next()
		if !ok {
			t.Fatalf("attempt %d: policy exhausted early", i+1)
		}
		if delay != expected {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, delay, expected)
		}
	}
	if _, ok := r.next(); ok {
		t.Error("attempt 7 allowed past MaxAttempts = 6")
	}
}

func TestReconnectJitterStaysInBand(t *testing.T) {
	r := newReconnector(ReconnectPolicy{
		BaseInterval: time.Second,
		MaxInterval:  time.Minute,
		MaxAttempts:  1000,
		JitterFactor: 0.25,
	})
	for i := 0; i < 50; i++ {
		delay, ok := r.next()
		if !ok {
			t.Fatalf("attempt %d: policy exhausted early", i+1)
		}
		if delay <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", i+1, delay)
		}
		if delay > time.Duration(float64(time.Minute)*1.25) {
			t.Fatalf("attempt %d: delay %v above the jittered cap", i+1, delay)
		}
	}
}

func TestReconnectResetClearsStreak(t *testing.T) {
	r := newReconnector(ReconnectPolicy{
		BaseInterval: time.Second,
		MaxInterval:  time.Minute,
		MaxAttempts:  3,
		JitterFactor: 0,
	})

	r.next()
	r.next()
	if r.attempts() != 2 {
		t.Fatalf("attempts = %d, want 2", r.attempts())
	}

	r.reset()
	if r.attempts() != 0 {
		t.Fatalf("attempts = %d after reset, want 0", r.attempts())
	}
	delay, ok := r.next()
	if !ok || delay != time.Second {
		t.Errorf("first delay after reset = (%v, %v), want 1s", delay, ok)
	}
}

func TestReconnectDefaults(t *testing.T) {
	p := ReconnectPolicy{}.withDefaults()
	if p.BaseInterval != time.Second || p.MaxInterval != 30*time.Second || p.MaxAttempts != 10 || p.JitterFactor != 0.25 {
		t.Errorf("defaults = %+v", p)
	}

	p = ReconnectPolicy{JitterFactor: 1.5}.withDefaults()
	if p.JitterFactor != 0.25 {
		t.Errorf("out-of-range jitter = %v, want fallback 0.25", p.JitterFactor)
	}
}
