// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Default limits applied when Config leaves them zero.
const (
	defaultDialTimeout  = 15 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultMaxFrameSize = 4 * 1024 * 1024
)

// Handler receives a Manager's inbound frames and its close signal.
// Both callbacks are invoked from the Manager's read goroutine, so
// frames arrive strictly in network order and HandleClose never
// overlaps a HandleFrame call.
type Handler interface {
	// HandleFrame delivers one inbound text frame. The payload is owned
	// by the handler; the Manager never reuses the buffer.
	HandleFrame(payload []byte)

	// HandleClose fires exactly once per successful Open, after the last
	// frame. The reason is [ErrClosed] for a local Close, a *CloseError
	// otherwise.
	HandleClose(reason error)
}

// Config configures a Manager.
type Config struct {
	// DialTimeout bounds the websocket dial and upgrade. Zero means 15s.
	DialTimeout time.Duration

	// WriteTimeout bounds each outbound frame write. Zero means 10s.
	WriteTimeout time.Duration

	// MaxFrameSize caps inbound frames. A peer frame over the limit
	// kills the connection. Zero means 4 MiB.
	MaxFrameSize int64

	// Logger is used for transport-level logging. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Manager owns at most one live websocket. It is safe for concurrent
// use; Send may be called from any goroutine.
type Manager struct {
	handler Handler
	config  Config
	logger  *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	epoch      uint64
	closedByUs bool

	// writeMu serializes frame writes: gorilla connections support one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewManager creates a Manager delivering to handler. One Manager serves
// one owner for its whole life; it can be reopened after a close.
func NewManager(handler Handler, config Config) *Manager {
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = defaultMaxFrameSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{handler: handler, config: config, logger: logger}
}

// Open dials the hub and starts the read loop. Returns nil when the
// connection is established — that is the "opened" signal. A connect
// failure is returned synchronously as a *DialError and the Handler is
// not notified. Open while a connection is live returns ErrAlreadyOpen.
func (m *Manager) Open(ctx context.Context, url string, header http.Header) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return ErrAlreadyOpen
	}
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.DialTimeout}
	conn, response, err := dialer.DialContext(ctx, url, header)
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		return &DialError{URL: url, Err: err}
	}
	conn.SetReadLimit(m.config.MaxFrameSize)

	m.mu.Lock()
	if m.conn != nil {
		// A concurrent Open won the race. Drop ours.
		m.mu.Unlock()
		conn.Close()
		return ErrAlreadyOpen
	}
	m.conn = conn
	m.epoch++
	m.closedByUs = false
	m.mu.Unlock()

	m.logger.Debug("transport open", "url", url)
	go m.readLoop(conn)
	return nil
}

// Epoch returns a token identifying the current connection. It changes
// on every successful Open, so a caller holding an epoch can tell
// whether the connection it saw is still the live one.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Send writes one text frame on the current connection. Fails with
// ErrNotConnected while no connection is live.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	return m.write(conn, payload)
}

// SendOn writes one text frame on the connection identified by epoch,
// failing with ErrNotConnected when that connection is no longer the
// live one. Callers that admit a frame on one connection and write it
// later use this to guarantee the frame can never slip onto a newer
// socket.
func (m *Manager) SendOn(epoch uint64, payload []byte) error {
	m.mu.Lock()
	conn := m.conn
	if m.epoch != epoch {
		conn = nil
	}
	m.mu.Unlock()
	return m.write(conn, payload)
}

func (m *Manager) write(conn *websocket.Conn, payload []byte) error {
	if conn == nil {
		return ErrNotConnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Close tears down the live connection, sending a best-effort close
// frame first. Idempotent; returns nil when nothing is open. The
// Handler's HandleClose fires with ErrClosed once the read loop drains.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return nil
	}
	m.closedByUs = true
	m.mu.Unlock()

	m.writeMu.Lock()
	deadline := time.Now().Add(m.config.WriteTimeout)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	m.writeMu.Unlock()

	return conn.Close()
}

// readLoop pumps inbound frames to the handler until the connection
// dies, then reports the close reason exactly once.
func (m *Manager) readLoop(conn *websocket.Conn) {
	var reason error
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			reason = m.closeReason(conn, err)
			break
		}
		if messageType != websocket.TextMessage {
			// The hub protocol is JSON text; binary frames are a peer
			// bug. Log and skip rather than kill the connection.
			m.logger.Warn("transport: ignoring non-text frame", "message_type", messageType)
			continue
		}
		m.handler.HandleFrame(payload)
	}

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()

	m.logger.Debug("transport closed", "reason", reason)
	m.handler.HandleClose(reason)
}

// closeReason maps a read error to the Handler's close reason.
func (m *Manager) closeReason(conn *websocket.Conn, readErr error) error {
	m.mu.Lock()
	local := m.closedByUs && m.conn == conn
	m.mu.Unlock()
	if local {
		return ErrClosed
	}

	closeErr := &CloseError{Err: readErr}
	if wsErr, ok := readErr.(*websocket.CloseError); ok {
		closeErr.Code = wsErr.Code
	}
	return closeErr
}
