// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub provides typed operations against a HomeWire hub over an
// established event channel.
//
// The channel layer moves opaque request and result payloads; this
// package gives the common hub operations names and result types: state
// queries, service calls, registry listings, and a typed state-change
// watcher. Each operation is a request builder plus a response decode —
// no connection lifecycle lives here.
package hub
