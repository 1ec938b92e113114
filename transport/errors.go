// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// ErrAlreadyOpen is returned by Manager.Open while a connection is live.
var ErrAlreadyOpen = errors.New("transport: connection already open")

// ErrNotConnected is returned by Manager.Send while no connection is
// live. Frames are never queued.
var ErrNotConnected = errors.New("transport: not connected")

// ErrClosed is the close reason delivered to the Handler when the local
// side closed the connection deliberately.
var ErrClosed = errors.New("transport: connection closed")

// DialError reports a connect-time failure: DNS resolution, TLS, refused
// connection, or a rejected websocket upgrade. It is returned
// synchronously from Manager.Open — never surfaced through the Handler.
type DialError struct {
	URL string
	Err error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("transport: dialing %s: %v", e.URL, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// CloseError is the close reason delivered to the Handler when the
// connection dies without a local Close call: a peer close frame, a
// network error, or a read failure.
type CloseError struct {
	// Code is the websocket close code when the peer sent a close
	// frame, zero otherwise.
	Code int
	Err  error
}

func (e *CloseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport: connection lost (close code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transport: connection lost: %v", e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }
