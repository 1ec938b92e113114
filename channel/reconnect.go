// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectPolicy bounds the session's automatic reconnection. Delays
// grow exponentially from BaseInterval (doubling per attempt), capped at
// MaxInterval and spread by JitterFactor. The attempt counter resets
// only when a connection reaches Ready; once it passes MaxAttempts the
// session goes to terminal Failed instead of retrying forever.
type ReconnectPolicy struct {
	// BaseInterval is the first retry delay. Zero means 1s.
	BaseInterval time.Duration

	// MaxInterval caps the delay growth. Zero means 30s.
	MaxInterval time.Duration

	// MaxAttempts is the number of consecutive failed attempts allowed
	// before the session fails terminally. Zero means 10.
	MaxAttempts int

	// JitterFactor spreads each delay by ±factor (0 disables jitter,
	// which tests rely on). Values outside [0, 1) fall back to 0.25.
	JitterFactor float64
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.BaseInterval <= 0 {
		p.BaseInterval = time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 10
	}
	if p.JitterFactor < 0 || p.JitterFactor >= 1 {
		p.JitterFactor = 0.25
	}
	return p
}

// reconnector tracks consecutive connection failures and produces the
// next backoff delay. Not goroutine-safe; the session calls it under
// its own lock.
type reconnector struct {
	policy  ReconnectPolicy
	backoff *backoff.ExponentialBackOff
	attempt int
}

func newReconnector(policy ReconnectPolicy) *reconnector {
	policy = policy.withDefaults()
	exponential := &backoff.ExponentialBackOff{
		InitialInterval:     policy.BaseInterval,
		RandomizationFactor: policy.JitterFactor,
		Multiplier:          2,
		MaxInterval:         policy.MaxInterval,
	}
	exponential.Reset()
	return &reconnector{policy: policy, backoff: exponential}
}

// next records one failed attempt and returns the delay before the next
// try. ok is false when the policy is exhausted and the session must
// fail terminally.
func (r *reconnector) next() (delay time.Duration, ok bool) {
	r.attempt++
	if r.attempt > r.policy.MaxAttempts {
		return 0, false
	}
	return r.backoff.NextBackOff(), true
}

// reset clears the failure streak. Called on every Ready transition.
func (r *reconnector) reset() {
	r.attempt = 0
	r.backoff.Reset()
}

// attempts reports the current failure streak.
func (r *reconnector) attempts() int {
	return r.attempt
}
