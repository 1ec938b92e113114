// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport owns the physical duplex channel to the hub.
//
// A [Manager] wraps exactly one websocket at a time. Its whole job is to
// translate the socket's native lifecycle into three signals for its
// owner: Open returning nil (the open signal), Handler.HandleFrame for
// each inbound frame in arrival order, and Handler.HandleClose exactly
// once when the connection dies — whether by network failure, peer
// close, or a local Close call.
//
// The Manager does no queuing and no reconnection. Send while not open
// fails with [ErrNotConnected]; whether to buffer or drop is the owner's
// decision, and the channel layer's answer is "fail fast". Open while a
// connection is live fails with [ErrAlreadyOpen] so a buggy caller
// cannot leak sockets.
package transport
