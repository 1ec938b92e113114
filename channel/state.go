// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

// State is the session's connection state. A session is in exactly one
// state; every change goes through the session's transition paths under
// its lock, so observers never see a torn transition.
type State int

const (
	// Idle is the state before Start.
	Idle State = iota

	// Connecting covers both an in-flight dial and the backoff wait
	// between reconnect attempts.
	Connecting

	// AwaitingAuth means the socket is open and the session is waiting
	// for the hub's challenge frame.
	AwaitingAuth

	// Authenticating means the credential is sent and the session is
	// waiting for accept or reject.
	Authenticating

	// Ready is the only state in which application requests are
	// accepted.
	Ready

	// Closing means Stop was called and teardown is in progress.
	Closing

	// Closed is terminal: the session was stopped cleanly.
	Closed

	// Failed is terminal: the credential was rejected, or the reconnect
	// policy ran out of attempts.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case AwaitingAuth:
		return "awaiting-auth"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == Closed || s == Failed
}
