// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homewire/homewire/channel"
	"github.com/homewire/homewire/wire"
)

// fakeChannel records the payloads the client sends and answers with a
// canned result or error.
type fakeChannel struct {
	sent    []map[string]any
	result  json.RawMessage
	sendErr error

	subscribedType   string
	subscribedFilter string
	callback         channel.EventFunc
}

func (f *fakeChannel) Send(ctx context.Context, payload any) (json.RawMessage, error) {
	request, ok := payload.(map[string]any)
	if !ok {
		return nil, errors.New("unexpected payload type")
	}
	f.sent = append(f.sent, request)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.result, nil
}

func (f *fakeChannel) Subscribe(ctx context.Context, eventType, entityFilter string, callback channel.EventFunc, options channel.SubscribeOptions) (*channel.Subscription, error) {
	f.subscribedType = eventType
	f.subscribedFilter = entityFilter
	f.callback = callback
	return &channel.Subscription{}, nil
}

func (f *fakeChannel) lastSent(t *testing.T) map[string]any {
	t.Helper()
	require.NotEmpty(t, f.sent, "no request was sent")
	return f.sent[len(f.sent)-1]
}

func TestStates(t *testing.T) {
	fake := &fakeChannel{result: json.RawMessage(`[
		{"entity_id": "light.kitchen", "state": "on"},
		{"entity_id": "sensor.hall", "state": "21.5"}
	]`)}
	client := NewClient(fake)

	states, err := client.States(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "light.kitchen", states[0].EntityID)
	assert.Equal(t, "on", states[0].State)
	assert.Equal(t, map[string]any{"type": "get_states"}, fake.lastSent(t))
}

func TestState(t *testing.T) {
	fake := &fakeChannel{result: json.RawMessage(`{"entity_id": "light.kitchen", "state": "off"}`)}
	client := NewClient(fake)

	state, err := client.State(context.Background(), "light.kitchen")
	require.NoError(t, err)
	assert.Equal(t, "off", state.State)
	assert.Equal(t, map[string]any{"type": "get_state", "entity_id": "light.kitchen"}, fake.lastSent(t))

	_, err = client.State(context.Background(), "")
	assert.Error(t, err, "empty entity id must be rejected before hitting the wire")
	assert.Len(t, fake.sent, 1)
}

func TestStateNotFound(t *testing.T) {
	fake := &fakeChannel{sendErr: &wire.Error{Code: "not_found", Message: "unknown entity"}}
	client := NewClient(fake)

	_, err := client.State(context.Background(), "light.attic")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	fake.sendErr = channel.ErrNotConnected
	_, err = client.State(context.Background(), "light.attic")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.ErrorIs(t, err, channel.ErrNotConnected)
}

func TestCallService(t *testing.T) {
	fake := &fakeChannel{}
	client := NewClient(fake)

	err := client.CallService(context.Background(), ServiceCall{
		Domain:   "light",
		Service:  "turn_on",
		EntityID: "light.kitchen",
		Data:     json.RawMessage(`{"brightness": 128}`),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"type":      "call_service",
		"domain":    "light",
		"service":   "turn_on",
		"entity_id": "light.kitchen",
		"data":      json.RawMessage(`{"brightness": 128}`),
	}, fake.lastSent(t))

	// Optional fields stay off the wire when unset.
	require.NoError(t, client.CallService(context.Background(), ServiceCall{Domain: "homewire", Service: "restart"}))
	assert.Equal(t, map[string]any{
		"type":    "call_service",
		"domain":  "homewire",
		"service": "restart",
	}, fake.lastSent(t))

	assert.Error(t, client.CallService(context.Background(), ServiceCall{Domain: "light"}))
}

func TestHubConfig(t *testing.T) {
	fake := &fakeChannel{result: json.RawMessage(`{
		"version": "2026.8.1", "location_name": "Home",
		"time_zone": "Europe/Amsterdam", "components": ["light", "zone"]
	}`)}
	client := NewClient(fake)

	config, err := client.HubConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026.8.1", config.Version)
	assert.Equal(t, []string{"light", "zone"}, config.Components)
	assert.Equal(t, map[string]any{"type": "get_config"}, fake.lastSent(t))
}

func TestRegistryListings(t *testing.T) {
	t.Run("entities", func(t *testing.T) {
		fake := &fakeChannel{result: json.RawMessage(`[
			{"entity_id": "light.kitchen", "name": "Kitchen", "platform": "hue", "area_id": "kitchen"}
		]`)}
		entities, err := NewClient(fake).ListEntities(context.Background())
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, "hue", entities[0].Platform)
		assert.Equal(t, map[string]any{"type": "list_entities"}, fake.lastSent(t))
	})

	t.Run("devices", func(t *testing.T) {
		fake := &fakeChannel{result: json.RawMessage(`[
			{"id": "dev-1", "name": "Hue Bridge", "manufacturer": "Signify"}
		]`)}
		devices, err := NewClient(fake).ListDevices(context.Background())
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "Signify", devices[0].Manufacturer)
		assert.Equal(t, map[string]any{"type": "list_devices"}, fake.lastSent(t))
	})

	t.Run("areas", func(t *testing.T) {
		fake := &fakeChannel{result: json.RawMessage(`[{"id": "kitchen", "name": "Kitchen"}]`)}
		areas, err := NewClient(fake).ListAreas(context.Background())
		require.NoError(t, err)
		require.Len(t, areas, 1)
		assert.Equal(t, map[string]any{"type": "list_areas"}, fake.lastSent(t))
	})
}

func TestWatchStates(t *testing.T) {
	fake := &fakeChannel{}
	client := NewClient(fake)

	var changes []StateChange
	_, err := client.WatchStates(context.Background(), "light.kitchen", func(change StateChange) {
		changes = append(changes, change)
	}, channel.SubscribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "state_changed", fake.subscribedType)
	assert.Equal(t, "light.kitchen", fake.subscribedFilter)

	fake.callback(channel.Event{
		Type:     "state_changed",
		EntityID: "light.kitchen",
		Data: json.RawMessage(`{
			"entity_id": "light.kitchen",
			"old_state": {"entity_id": "light.kitchen", "state": "off"},
			"new_state": {"entity_id": "light.kitchen", "state": "on"}
		}`),
	})
	require.Len(t, changes, 1)
	require.NotNil(t, changes[0].NewState)
	assert.Equal(t, "on", changes[0].NewState.State)
	assert.Equal(t, "off", changes[0].OldState.State)

	// Undecodable payloads are dropped, not delivered half-built.
	fake.callback(channel.Event{Type: "state_changed", Data: json.RawMessage(`"garbage`)})
	assert.Len(t, changes, 1)

	// An event payload without its own entity id inherits the frame's.
	fake.callback(channel.Event{
		Type:     "state_changed",
		EntityID: "light.kitchen",
		Data:     json.RawMessage(`{"new_state": {"entity_id": "light.kitchen", "state": "off"}}`),
	})
	require.Len(t, changes, 2)
	assert.Equal(t, "light.kitchen", changes[1].EntityID)

	_, err = client.WatchStates(context.Background(), "", nil, channel.SubscribeOptions{})
	assert.Error(t, err)
}
