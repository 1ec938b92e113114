// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/homewire/homewire/channel"
	"github.com/homewire/homewire/wire"
)

// Channel is the surface the client needs from the event channel,
// satisfied by *channel.Session.
type Channel interface {
	Send(ctx context.Context, payload any) (json.RawMessage, error)
	Subscribe(ctx context.Context, eventType, entityFilter string, callback channel.EventFunc, options channel.SubscribeOptions) (*channel.Subscription, error)
}

// Client issues typed hub operations over an event channel. It is
// stateless; all connection handling stays in the channel. Safe for
// concurrent use when the underlying channel is.
type Client struct {
	channel Channel
}

// NewClient wraps an event channel in the typed operation surface.
func NewClient(ch Channel) *Client {
	return &Client{channel: ch}
}

// IsNotFound reports whether err is the hub telling us the addressed
// entity or service does not exist.
func IsNotFound(err error) bool {
	var hubErr *wire.Error
	return errors.As(err, &hubErr) && hubErr.Code == "not_found"
}

// States returns the current state of every entity the hub exposes.
func (c *Client) States(ctx context.Context) ([]EntityState, error) {
	var states []EntityState
	if err := c.request(ctx, map[string]any{"type": "get_states"}, &states); err != nil {
		return nil, fmt.Errorf("hub: fetching states: %w", err)
	}
	return states, nil
}

// State returns one entity's current state. IsNotFound distinguishes a
// missing entity from transport failures.
func (c *Client) State(ctx context.Context, entityID string) (EntityState, error) {
	if entityID == "" {
		return EntityState{}, fmt.Errorf("hub: entity id is required")
	}
	var state EntityState
	err := c.request(ctx, map[string]any{"type": "get_state", "entity_id": entityID}, &state)
	if err != nil {
		return EntityState{}, fmt.Errorf("hub: fetching state of %s: %w", entityID, err)
	}
	return state, nil
}

// CallService invokes a hub service, for example domain "light" service
// "turn_on" against a target entity.
func (c *Client) CallService(ctx context.Context, call ServiceCall) error {
	if call.Domain == "" || call.Service == "" {
		return fmt.Errorf("hub: service call requires domain and service")
	}
	payload := map[string]any{
		"type":    "call_service",
		"domain":  call.Domain,
		"service": call.Service,
	}
	if call.EntityID != "" {
		payload["entity_id"] = call.EntityID
	}
	if len(call.Data) > 0 {
		payload["data"] = call.Data
	}
	if err := c.request(ctx, payload, nil); err != nil {
		return fmt.Errorf("hub: calling %s.%s: %w", call.Domain, call.Service, err)
	}
	return nil
}

// HubConfig returns the hub's configuration summary.
func (c *Client) HubConfig(ctx context.Context) (Config, error) {
	var config Config
	if err := c.request(ctx, map[string]any{"type": "get_config"}, &config); err != nil {
		return Config{}, fmt.Errorf("hub: fetching config: %w", err)
	}
	return config, nil
}

// ListEntities returns the entity registry.
func (c *Client) ListEntities(ctx context.Context) ([]Entity, error) {
	var entities []Entity
	if err := c.request(ctx, map[string]any{"type": "list_entities"}, &entities); err != nil {
		return nil, fmt.Errorf("hub: listing entities: %w", err)
	}
	return entities, nil
}

// ListDevices returns the device registry.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.request(ctx, map[string]any{"type": "list_devices"}, &devices); err != nil {
		return nil, fmt.Errorf("hub: listing devices: %w", err)
	}
	return devices, nil
}

// ListAreas returns the area registry.
func (c *Client) ListAreas(ctx context.Context) ([]Area, error) {
	var areas []Area
	if err := c.request(ctx, map[string]any{"type": "list_areas"}, &areas); err != nil {
		return nil, fmt.Errorf("hub: listing areas: %w", err)
	}
	return areas, nil
}

// StateFunc receives decoded state changes from WatchStates. It runs on
// the channel's dispatch goroutine and must not block.
type StateFunc func(change StateChange)

// WatchStates subscribes to state_changed events, decoded into typed
// StateChange values. entityFilter narrows the watch to one entity when
// non-empty. The returned subscription is the channel's: it survives
// reconnects and is cancelled with Unsubscribe.
func (c *Client) WatchStates(ctx context.Context, entityFilter string, callback StateFunc, options channel.SubscribeOptions) (*channel.Subscription, error) {
	if callback == nil {
		return nil, fmt.Errorf("hub: watch requires a callback")
	}
	return c.channel.Subscribe(ctx, "state_changed", entityFilter, func(event channel.Event) {
		var change StateChange
		if err := json.Unmarshal(event.Data, &change); err != nil {
			// An undecodable payload is the hub's bug, not a reason to
			// kill the watch.
			return
		}
		if change.EntityID == "" {
			change.EntityID = event.EntityID
		}
		callback(change)
	}, options)
}

// request sends one operation and decodes its result into out, when out
// is non-nil.
func (c *Client) request(ctx context.Context, payload map[string]any, out any) error {
	result, err := c.channel.Send(ctx, payload)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}
