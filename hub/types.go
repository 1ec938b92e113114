// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"encoding/json"
	"time"
)

// EntityState is one entity's current state as the hub reports it.
// Attributes stay opaque: their schema belongs to the integration that
// owns the entity, not to this client.
type EntityState struct {
	EntityID    string          `json:"entity_id"`
	State       string          `json:"state"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
	LastChanged time.Time       `json:"last_changed"`
	LastUpdated time.Time       `json:"last_updated"`
}

// StateChange is the decoded payload of a state_changed event.
// OldState is nil for an entity's first state after it appears.
type StateChange struct {
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state"`
	NewState *EntityState `json:"new_state"`
}

// ServiceCall names a service invocation. Data is the service's
// parameter object, passed through opaque.
type ServiceCall struct {
	Domain   string          `json:"domain"`
	Service  string          `json:"service"`
	EntityID string          `json:"entity_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Config is the hub's own configuration summary.
type Config struct {
	Version      string   `json:"version"`
	LocationName string   `json:"location_name"`
	TimeZone     string   `json:"time_zone"`
	Components   []string `json:"components"`
}

// Entity is one entity-registry row.
type Entity struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	DeviceID string `json:"device_id,omitempty"`
	AreaID   string `json:"area_id,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Device is one device-registry row.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	AreaID       string `json:"area_id,omitempty"`
}

// Area is one area-registry row.
type Area struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
