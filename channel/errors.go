// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send and Subscribe while the session is
// not Ready. Requests are never queued; callers retry after WaitReady.
var ErrNotConnected = errors.New("channel: session not ready")

// ErrRequestTimeout rejects a single request whose result frame did not
// arrive in time. It is scoped to that request: the connection and all
// other in-flight requests are unaffected.
var ErrRequestTimeout = errors.New("channel: request timed out")

// ErrConnectionLost rejects every in-flight request when the physical
// connection drops. Distinguishable from ErrRequestTimeout so callers
// can treat it as retryable-after-reconnect.
var ErrConnectionLost = errors.New("channel: connection lost")

// ErrHandshakeTimeout means the hub never sent its challenge (or never
// answered the credential) within the handshake window. The attempt
// counts against the reconnect policy and is retried.
var ErrHandshakeTimeout = errors.New("channel: auth handshake timed out")

// ErrSessionClosed is reported after Stop: pending work is torn down and
// the session accepts no further calls.
var ErrSessionClosed = errors.New("channel: session closed")

// AuthRejectedError is terminal: the hub rejected the credential. The
// session moves to Failed and never schedules another attempt — a bad
// token does not become good by retrying.
type AuthRejectedError struct {
	Code    string
	Message string
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("channel: credential rejected by hub: %s: %s", e.Code, e.Message)
}
