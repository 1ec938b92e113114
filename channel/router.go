// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homewire/homewire/lib/clock"
	"github.com/homewire/homewire/wire"
)

// frameSender is the write half of the transport, satisfied by
// *transport.Manager. The router is the only caller for application
// requests; the session writes handshake frames itself.
type frameSender interface {
	Send(payload []byte) error
}

// settlement is the single resolution of one pending request.
type settlement struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one in-flight request from send to settlement.
type pendingRequest struct {
	id     uint64
	sentAt time.Time
	done   chan settlement // buffered(1); written exactly once
}

// router correlates outbound requests with inbound result frames by id.
// Ids increase monotonically and are never reused — not even across
// reconnects, which costs nothing and removes a whole class of stale
// response bugs.
//
// Every pending request settles exactly once: with its result, with the
// hub's error payload, with ErrRequestTimeout, or with ErrConnectionLost
// when failAll runs on disconnect. Matching is strictly by id, so
// pipelined responses arriving out of order resolve correctly.
type router struct {
	sender frameSender
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingRequest
}

func newRouter(sender frameSender, clk clock.Clock, logger *slog.Logger) *router {
	return &router{
		sender:  sender,
		clock:   clk,
		logger:  logger,
		pending: make(map[uint64]*pendingRequest),
	}
}

// send frames the payload with the next correlation id, forwards it, and
// blocks until the matching result frame, the timeout, ctx cancellation,
// or connection loss. The assigned correlation id is returned alongside
// the result; the registry keeps it as the server-side subscription id.
func (r *router) send(ctx context.Context, payload any, timeout time.Duration) (json.RawMessage, uint64, error) {
	r.mu.Lock()
	r.nextID++
	request := &pendingRequest{
		id:     r.nextID,
		sentAt: r.clock.Now(),
		done:   make(chan settlement, 1),
	}
	r.pending[request.id] = request
	r.mu.Unlock()

	framed, err := wire.EncodeRequest(request.id, payload)
	if err != nil {
		r.drop(request.id)
		return nil, 0, err
	}
	if err := r.sender.Send(framed); err != nil {
		r.drop(request.id)
		return nil, 0, fmt.Errorf("channel: sending request %d: %w", request.id, err)
	}

	select {
	case resolved := <-request.done:
		return resolved.result, request.id, resolved.err
	case <-r.clock.After(timeout):
		// One slow request is not a connection failure: drop only this
		// entry and leave the connection alone.
		if r.drop(request.id) {
			return nil, request.id, fmt.Errorf("%w (id %d after %v)", ErrRequestTimeout, request.id, timeout)
		}
		// A settlement raced the timeout; honor it.
		resolved := <-request.done
		return resolved.result, request.id, resolved.err
	case <-ctx.Done():
		if r.drop(request.id) {
			return nil, request.id, ctx.Err()
		}
		resolved := <-request.done
		return resolved.result, request.id, resolved.err
	}
}

// handleFrame resolves the pending request matching the frame's id.
// Returns false when the id is unknown — the normal case for push
// traffic, which the caller hands to the subscription registry.
func (r *router) handleFrame(message wire.Message) bool {
	if message.ID == 0 {
		return false
	}

	r.mu.Lock()
	request, ok := r.pending[message.ID]
	if ok {
		delete(r.pending, message.ID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if message.Type == wire.TypeResult && !message.Success {
		serverErr := message.Error
		if serverErr == nil {
			serverErr = &wire.Error{Code: "unknown", Message: "hub reported failure without error payload"}
		}
		request.done <- settlement{err: serverErr}
		return true
	}
	request.done <- settlement{result: message.Result}
	return true
}

// failAll settles every pending request with ErrConnectionLost. Called
// by the session on disconnect and on Stop; nothing is left dangling.
func (r *router) failAll(reason error) {
	r.mu.Lock()
	orphaned := r.pending
	r.pending = make(map[uint64]*pendingRequest)
	r.mu.Unlock()

	if len(orphaned) > 0 {
		r.logger.Debug("rejecting in-flight requests", "count", len(orphaned), "reason", reason)
	}
	for _, request := range orphaned {
		request.done <- settlement{err: fmt.Errorf("%w: %v", ErrConnectionLost, reason)}
	}
}

// drop removes a pending entry, reporting whether it was still pending.
// False means a settlement already claimed it.
func (r *router) drop(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// pendingCount reports the in-flight request count.
func (r *router) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
