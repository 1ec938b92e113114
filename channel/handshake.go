// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homewire/homewire/lib/clock"
	"github.com/homewire/homewire/wire"
)

// authOutcome is the tagged result of the auth handshake. The session's
// transition table branches on the tag, never on error types: accepted
// proceeds to Ready, rejected is terminal, timed-out counts as a failed
// connection attempt.
type authOutcome int

const (
	authPending authOutcome = iota
	authAccepted
	authRejected
	authTimedOut
)

// handshake runs the challenge/credential/accept state machine once per
// physical connection. It sees every inbound frame until it resolves;
// non-handshake frames arriving early (the hub may pipeline application
// frames behind the accept) are buffered for replay, never dropped.
type handshake struct {
	token  string
	send   func(payload []byte) error
	logger *slog.Logger

	mu             sync.Mutex
	credentialSent bool
	outcome        authOutcome
	rejection      *AuthRejectedError
	buffered       []wire.Message
	timer          clock.Timer
}

func newHandshake(token string, send func(payload []byte) error, logger *slog.Logger) *handshake {
	return &handshake{token: token, send: send, logger: logger}
}

// start arms the handshake deadline. onTimeout fires (once, from the
// clock's goroutine) if neither accept nor reject arrived in time. A
// handshake that already resolved (a replayed frame can do that before
// start runs) arms nothing.
func (h *handshake) start(clk clock.Clock, timeout time.Duration, onTimeout func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcome != authPending {
		return
	}
	h.timer = clk.AfterFunc(timeout, func() {
		h.mu.Lock()
		if h.outcome != authPending {
			h.mu.Unlock()
			return
		}
		h.outcome = authTimedOut
		h.mu.Unlock()
		onTimeout()
	})
}

// feed consumes one inbound frame and returns the handshake's outcome so
// far. The returned error is a credential-send failure; the caller
// recycles the connection when it sees one.
func (h *handshake) feed(message wire.Message) (authOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.outcome != authPending {
		// Late frame after resolution; buffer it for replay like any
		// other pre-dispatch frame.
		h.buffered = append(h.buffered, message)
		return h.outcome, nil
	}

	switch message.Type {
	case wire.TypeChallenge:
		if h.credentialSent {
			h.logger.Warn("duplicate challenge frame ignored")
			return authPending, nil
		}
		credential, err := json.Marshal(wire.NewCredential(h.token))
		if err != nil {
			return authPending, fmt.Errorf("encoding credential: %w", err)
		}
		// Exactly once per connection, even if the hub re-challenges.
		h.credentialSent = true
		if err := h.send(credential); err != nil {
			return authPending, fmt.Errorf("sending credential: %w", err)
		}
		return authPending, nil

	case wire.TypeAccept:
		h.outcome = authAccepted
		h.stopTimerLocked()
		return authAccepted, nil

	case wire.TypeReject:
		h.outcome = authRejected
		h.rejection = &AuthRejectedError{Code: message.Code, Message: message.Reason}
		h.stopTimerLocked()
		return authRejected, nil

	default:
		// Application traffic before the accept frame: hold it.
		h.buffered = append(h.buffered, message)
		return authPending, nil
	}
}

// takeBuffered returns the frames held back during the handshake, in
// arrival order, and clears the buffer. The session replays them through
// normal dispatch right after reaching Ready.
func (h *handshake) takeBuffered() []wire.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	buffered := h.buffered
	h.buffered = nil
	return buffered
}

// rejectionError returns the terminal rejection, nil unless the outcome
// is authRejected.
func (h *handshake) rejectionError() *AuthRejectedError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rejection
}

// cancel disarms the deadline. Called when the connection dies while the
// handshake is still pending.
func (h *handshake) cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTimerLocked()
}

func (h *handshake) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
