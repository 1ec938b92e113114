// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the frame format of the hub's realtime API.
//
// Every websocket frame carries one JSON message. Messages fall into
// three groups:
//
//   - Handshake frames (challenge, credential, accept, reject) exchanged
//     immediately after connection open, before any application traffic.
//   - Correlated request/result pairs: the client assigns a monotonically
//     increasing "id" to each request, and the hub echoes it on exactly
//     one result frame. Ids are never reused within one physical
//     connection.
//   - Push events: frames of type "event" that the hub sends unsolicited.
//     They carry an event type discriminator and, for entity-scoped
//     events, the entity identifier.
//
// The package only knows the envelope. Request bodies and event data are
// opaque json.RawMessage payloads owned by the caller; the channel layer
// never interprets them.
package wire
