// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
)

// Credential is the client's answer to the hub's challenge frame.
type Credential struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// NewCredential builds the credential frame for the given access token.
func NewCredential(token string) Credential {
	return Credential{Type: TypeCredential, AccessToken: token}
}

// Ping is the application-level liveness request. It is correlated like
// any other request; the hub answers with a pong result.
type Ping struct {
	ID   uint64 `json:"id"`
	Type string `json:"type"`
}

// Subscribe asks the hub to start pushing events of the given type.
// EntityID narrows the subscription to one entity when non-empty.
type Subscribe struct {
	ID        uint64 `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
	EntityID  string `json:"entity_id,omitempty"`
}

// Unsubscribe cancels a server-side subscription. Subscription references
// the correlation id of the subscribe request that created it.
type Unsubscribe struct {
	ID           uint64 `json:"id"`
	Type         string `json:"type"`
	Subscription uint64 `json:"subscription"`
}

// EncodeRequest attaches the correlation id to a request payload and
// serializes it. The payload must marshal to a JSON object; the id is
// injected as its "id" member, overwriting any id the caller set. This
// keeps id assignment in one place — the router owns the id space.
func EncodeRequest(id uint64, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding request: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, fmt.Errorf("wire: request payload must be a JSON object: %w", err)
	}
	fields["id"] = json.RawMessage(fmt.Sprintf("%d", id))

	framed, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("wire: framing request: %w", err)
	}
	return framed, nil
}
