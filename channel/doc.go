// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel maintains a persistent, authenticated duplex event
// channel to a HomeWire hub.
//
// A Session owns one websocket connection at a time and layers four
// concerns on top of it:
//
//   - an authentication handshake (challenge, credential, accept or
//     reject) that gates every connection before application traffic;
//   - a message router that assigns monotonically increasing
//     correlation ids to outbound requests and settles each one with
//     exactly one result, timeout, or connection-loss error;
//   - a subscription registry that dispatches push events to
//     registered callbacks and replays every subscription after each
//     reconnect;
//   - a reconnect loop with exponential backoff and jitter that rides
//     out network interruptions without caller involvement.
//
// Callers see a small surface: Start, WaitReady, Send, Subscribe,
// Status, Stop, Done, Err. Transient disconnects reject in-flight
// requests with ErrConnectionLost and are otherwise invisible; a
// credential rejection fails the session terminally with
// *AuthRejectedError, since retrying a bad token cannot help.
package channel
