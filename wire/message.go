// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
)

// Frame type constants. The "type" field of every message is one of these.
const (
	// TypeChallenge is the first frame on every connection, sent by the
	// hub before it accepts any other traffic.
	TypeChallenge = "challenge"

	// TypeCredential is the client's answer to a challenge. Sent exactly
	// once per physical connection.
	TypeCredential = "credential"

	// TypeAccept completes the handshake. Application traffic is allowed
	// from this frame on.
	TypeAccept = "accept"

	// TypeReject terminates the handshake. The hub closes the connection
	// after sending it; the credential is not retried.
	TypeReject = "reject"

	// TypeResult is the hub's answer to a correlated request.
	TypeResult = "result"

	// TypeEvent is an unsolicited push frame.
	TypeEvent = "event"

	// TypePing and TypePong are the application-level liveness pair.
	// Pings are correlated requests like any other.
	TypePing = "ping"
	TypePong = "pong"

	// TypeSubscribe and TypeUnsubscribe manage server-side event
	// subscriptions.
	TypeSubscribe   = "subscribe_events"
	TypeUnsubscribe = "unsubscribe_events"
)

// Message is the decoded envelope of one inbound frame. Only the fields
// relevant to routing are typed; the rest of the frame stays in Raw for
// layers that need it.
type Message struct {
	// ID is the correlation id echoed from the request, or zero when the
	// frame is uncorrelated. Requests start at 1, so zero is unambiguous.
	ID uint64 `json:"id,omitempty"`

	// Type discriminates the frame (TypeResult, TypeEvent, handshake
	// types, ...).
	Type string `json:"type"`

	// Success, Result and Error are populated on TypeResult frames.
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`

	// EventType, EntityID and Data are populated on TypeEvent frames.
	// EntityID is empty for events that are not entity-scoped.
	EventType string          `json:"event_type,omitempty"`
	EntityID  string          `json:"entity_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// HubVersion is reported on challenge and accept frames.
	HubVersion string `json:"hub_version,omitempty"`

	// Code and Reason are populated on reject frames.
	Code   string `json:"code,omitempty"`
	Reason string `json:"message,omitempty"`

	// Raw is the undecoded frame, retained for logging and for replay of
	// frames buffered during the handshake.
	Raw json.RawMessage `json:"-"`
}

// Error is the structured failure payload of an unsuccessful result
// frame.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("hub: %s: %s", e.Code, e.Message)
}

// Decode parses one inbound frame. A frame without a "type" field is
// malformed: the channel counts those and recycles the connection when
// they recur (see channel.Config.MalformedFrameLimit).
func Decode(payload []byte) (Message, error) {
	var message Message
	if err := json.Unmarshal(payload, &message); err != nil {
		return Message{}, fmt.Errorf("wire: decoding frame: %w", err)
	}
	if message.Type == "" {
		return Message{}, fmt.Errorf("wire: frame has no type field")
	}
	message.Raw = append(json.RawMessage(nil), payload...)
	return message, nil
}

// IsHandshake reports whether the message belongs to the auth handshake
// sequence.
func (m Message) IsHandshake() bool {
	switch m.Type {
	case TypeChallenge, TypeAccept, TypeReject:
		return true
	}
	return false
}
