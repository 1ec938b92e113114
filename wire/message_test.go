// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeResult(t *testing.T) {
	message, err := Decode([]byte(`{"id":7,"type":"result","success":true,"result":{"answer":42}}`))
	require.NoError(t, err)
	require.Equal(t, uint64(7), message.ID)
	require.Equal(t, TypeResult, message.Type)
	require.True(t, message.Success)
	require.JSONEq(t, `{"answer":42}`, string(message.Result))
}

func TestDecodeErrorResult(t *testing.T) {
	message, err := Decode([]byte(`{"id":3,"type":"result","success":false,"error":{"code":"not_found","message":"no such entity"}}`))
	require.NoError(t, err)
	require.False(t, message.Success)
	require.NotNil(t, message.Error)
	require.Equal(t, "not_found", message.Error.Code)
	require.EqualError(t, message.Error, "hub: not_found: no such entity")
}

func TestDecodeEvent(t *testing.T) {
	message, err := Decode([]byte(`{"type":"event","event_type":"state_changed","entity_id":"light.kitchen","data":{"state":"on"}}`))
	require.NoError(t, err)
	require.Zero(t, message.ID)
	require.Equal(t, "state_changed", message.EventType)
	require.Equal(t, "light.kitchen", message.EntityID)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"missing type", `{"id":1}`},
		{"json scalar", `"hello"`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode([]byte(test.payload))
			require.Error(t, err)
		})
	}
}

func TestDecodeRetainsRaw(t *testing.T) {
	payload := []byte(`{"type":"challenge","hub_version":"2026.2"}`)
	message, err := Decode(payload)
	require.NoError(t, err)
	require.JSONEq(t, string(payload), string(message.Raw))

	// Raw must be a copy: mutating the input buffer (as a reused read
	// buffer would) must not corrupt the decoded message.
	payload[2] = 'X'
	require.JSONEq(t, `{"type":"challenge","hub_version":"2026.2"}`, string(message.Raw))
}

func TestIsHandshake(t *testing.T) {
	require.True(t, Message{Type: TypeChallenge}.IsHandshake())
	require.True(t, Message{Type: TypeAccept}.IsHandshake())
	require.True(t, Message{Type: TypeReject}.IsHandshake())
	require.False(t, Message{Type: TypeResult}.IsHandshake())
	require.False(t, Message{Type: TypeEvent}.IsHandshake())
}

func TestEncodeRequest(t *testing.T) {
	t.Run("injects id", func(t *testing.T) {
		framed, err := EncodeRequest(12, map[string]any{"type": "get_states"})
		require.NoError(t, err)

		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(framed, &fields))
		require.Equal(t, "12", string(fields["id"]))
		require.Equal(t, `"get_states"`, string(fields["type"]))
	})

	t.Run("overwrites caller id", func(t *testing.T) {
		framed, err := EncodeRequest(5, Ping{ID: 999, Type: TypePing})
		require.NoError(t, err)

		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(framed, &fields))
		require.Equal(t, "5", string(fields["id"]))
	})

	t.Run("rejects non-object payload", func(t *testing.T) {
		_, err := EncodeRequest(1, []string{"not", "an", "object"})
		require.Error(t, err)
	})
}
