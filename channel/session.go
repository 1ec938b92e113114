// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/homewire/homewire/lib/clock"
	"github.com/homewire/homewire/transport"
	"github.com/homewire/homewire/wire"
)

// Default timing parameters applied when Config leaves them zero.
const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultRequestTimeout    = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatGrace    = 10 * time.Second

	// defaultMalformedFrameLimit is the per-connection budget of
	// undecodable frames before the connection is recycled.
	defaultMalformedFrameLimit = 8
)

// Config configures a Session. URL and AccessToken are required;
// everything else has working defaults.
type Config struct {
	// URL is the hub's realtime endpoint (ws:// or wss://).
	URL string

	// AccessToken is the credential presented during the handshake. The
	// session treats it as an immutable string and re-uses it verbatim
	// on every reconnect.
	AccessToken string

	// Header carries extra headers for the websocket dial. Nil is fine;
	// the credential travels in the handshake, not in headers.
	Header http.Header

	// HandshakeTimeout bounds the challenge/credential/accept exchange
	// on each connection. Zero means 10s.
	HandshakeTimeout time.Duration

	// RequestTimeout is the default per-request timeout for Send and
	// subscription setup. Zero means 10s.
	RequestTimeout time.Duration

	// HeartbeatInterval is the liveness ping period while Ready. Zero
	// means 30s.
	HeartbeatInterval time.Duration

	// HeartbeatGrace bounds each ping's round trip; a miss is treated
	// like a transport-level close. Zero means 10s.
	HeartbeatGrace time.Duration

	// Reconnect bounds automatic reconnection.
	Reconnect ReconnectPolicy

	// MalformedFrameLimit is the per-connection count of undecodable
	// frames tolerated before the connection is recycled. Zero means 8.
	MalformedFrameLimit int

	// Transport tunes the underlying websocket.
	Transport transport.Config

	// Logger is used for session logging. Nil means slog.Default().
	Logger *slog.Logger

	// Clock is the time source. Nil means the real clock; tests inject
	// a fake.
	Clock clock.Clock
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	// State is the current connection state.
	State State

	// ReconnectAttempts is the current consecutive-failure streak,
	// zero while the connection is healthy.
	ReconnectAttempts int

	// Subscriptions is the live subscription count.
	Subscriptions int

	// LastHeartbeat is when the most recent liveness ping completed,
	// zero before the first one.
	LastHeartbeat time.Time

	// HeartbeatLatency is the most recent ping round-trip time.
	HeartbeatLatency time.Duration
}

// Session is the persistent duplex event channel to the hub. It owns
// one transport connection at a time, authenticates it, correlates
// request/response pairs, dispatches push events to subscriptions, and
// reconnects with backoff across network interruptions.
//
// Lifecycle: New, Start, optionally WaitReady, then Send/Subscribe
// freely; Stop tears everything down. Start and Stop are idempotent. A
// stopped or failed session is not restartable — build a new one.
//
// Transient network loss is handled internally: in-flight requests fail
// with ErrConnectionLost (retryable), subscriptions are re-established
// server-side after re-authentication, and the caller only notices a
// brief unavailability window. A credential rejection is different: the
// session fails terminally (Done closes, Err reports
// *AuthRejectedError) and never retries a bad token.
type Session struct {
	config Config
	logger *slog.Logger
	clock  clock.Clock

	manager   *transport.Manager
	router    *router
	registry  *registry
	reconnect *reconnector

	mu           sync.Mutex
	state        State
	stateChanged chan struct{}
	hs           *handshake

	// early holds frames the read loop delivered before the handshake
	// was attached: the hub may speak the instant the upgrade
	// completes, while connect() is still between Open returning and
	// taking the lock. Replayed by attachHandshake, never dropped.
	early []wire.Message

	// connEpoch is the transport epoch of the connection the session is
	// currently on. Writes admitted on it are pinned to it, so a frame
	// can never slip onto a newer, not-yet-authenticated socket.
	connEpoch uint64

	// generation counts physical connection epochs. Goroutines spawned
	// for one connection (dial, heartbeat, resubscribe, retry timers)
	// capture it and go inert when it moves on.
	generation uint64

	malformed     int
	closeOverride error
	retryTimer    clock.Timer
	heartbeatStop chan struct{}

	lastHeartbeat    time.Time
	heartbeatLatency time.Duration

	terminalErr error
	done        chan struct{}
}

// New builds a Session. It does not connect; call Start.
func New(config Config) (*Session, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("channel: URL is required")
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("channel: AccessToken is required")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaultHeartbeatInterval
	}
	if config.HeartbeatGrace <= 0 {
		config.HeartbeatGrace = defaultHeartbeatGrace
	}
	if config.MalformedFrameLimit <= 0 {
		config.MalformedFrameLimit = defaultMalformedFrameLimit
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	session := &Session{
		config:       config,
		logger:       config.Logger,
		clock:        config.Clock,
		reconnect:    newReconnector(config.Reconnect),
		state:        Idle,
		stateChanged: make(chan struct{}),
		done:         make(chan struct{}),
	}
	session.manager = transport.NewManager(session, config.Transport)
	session.router = newRouter(connSender{session: session}, config.Clock, config.Logger)
	session.registry = newRegistry(session, config.Clock, config.Logger)
	return session, nil
}

// Start begins connecting. Returns immediately; use WaitReady to block
// until the first Ready. Idempotent while the session is live; returns
// ErrSessionClosed once the session is stopped or failed.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Idle:
		s.setStateLocked(Connecting)
		go s.connect(s.generation)
		return nil
	case Closing, Closed, Failed:
		return ErrSessionClosed
	default:
		return nil
	}
}

// Stop tears the session down: the connection is closed, every pending
// request is rejected with ErrConnectionLost, and every subscription is
// invalidated with ErrSessionClosed. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case Closing, Closed, Failed:
		s.mu.Unlock()
		return nil
	case Idle:
		s.setStateLocked(Closed)
		close(s.done)
		s.mu.Unlock()
		return nil
	}

	s.generation++
	s.stopRetryLocked()
	hadConnection := s.state == AwaitingAuth || s.state == Authenticating || s.state == Ready
	s.setStateLocked(Closing)
	s.mu.Unlock()

	if hadConnection {
		// Teardown completes in HandleClose when the read loop drains.
		return s.manager.Close()
	}

	// No live connection (mid-dial or waiting out a backoff): finish
	// here. A dial that lands later sees the bumped generation and
	// closes its socket.
	s.mu.Lock()
	if s.state == Closing {
		s.setStateLocked(Closed)
		close(s.done)
	}
	s.mu.Unlock()
	s.registry.invalidateAll(ErrSessionClosed)
	return nil
}

// Send issues one correlated request and blocks until its result frame,
// the per-request timeout, ctx cancellation, or connection loss. Fails
// with ErrNotConnected while the session is not Ready — requests are
// never queued.
func (s *Session) Send(ctx context.Context, payload any) (json.RawMessage, error) {
	result, _, err := s.call(ctx, payload)
	return result, err
}

// Subscribe registers a callback for push events matching eventType
// and, when entityFilter is non-empty, the exact entity id. Requires
// Ready. The subscription survives reconnects: the session re-sends the
// setup request after every re-authentication, and options.OnClose
// fires if that replay fails or the session tears down.
func (s *Session) Subscribe(ctx context.Context, eventType, entityFilter string, callback EventFunc, options SubscribeOptions) (*Subscription, error) {
	return s.registry.subscribe(ctx, eventType, entityFilter, callback, options)
}

// Status returns a snapshot of the session's state and heartbeat
// health.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:             s.state,
		ReconnectAttempts: s.reconnect.attempts(),
		Subscriptions:     s.registry.count(),
		LastHeartbeat:     s.lastHeartbeat,
		HeartbeatLatency:  s.heartbeatLatency,
	}
}

// Done closes when the session reaches a terminal state (Closed or
// Failed).
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended: nil after a clean Stop, an
// *AuthRejectedError after a credential rejection, or the last
// connection error when the reconnect policy was exhausted. Zero until
// Done closes.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalErr
}

// WaitReady blocks until the session is Ready, the session ends, or ctx
// is cancelled.
func (s *Session) WaitReady(ctx context.Context) error {
	for {
		s.mu.Lock()
		state := s.state
		terminalErr := s.terminalErr
		changed := s.stateChanged
		s.mu.Unlock()

		switch state {
		case Ready:
			return nil
		case Closed:
			if terminalErr != nil {
				return terminalErr
			}
			return ErrSessionClosed
		case Failed:
			return terminalErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// call is the commander implementation shared by Send and the registry.
func (s *Session) call(ctx context.Context, payload any) (json.RawMessage, uint64, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case Ready:
		return s.router.send(ctx, payload, s.config.RequestTimeout)
	case Closing, Closed, Failed:
		return nil, 0, ErrSessionClosed
	default:
		return nil, 0, ErrNotConnected
	}
}

// connect performs one dial attempt for the given connection epoch.
func (s *Session) connect(generation uint64) {
	s.mu.Lock()
	if s.generation != generation || s.state != Connecting {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.mu.Unlock()

	err := s.manager.Open(context.Background(), s.config.URL, s.config.Header)
	if err != nil {
		s.connectFailed(generation, err)
		return
	}

	if !s.attachHandshake(generation) {
		// Stop (or something else) invalidated this epoch while the
		// dial was in flight. Drop the fresh socket.
		s.manager.Close()
	}
}

// attachHandshake moves a freshly opened connection into the handshake
// phase. The read loop is already pumping when this runs, so frames it
// delivered in the meantime sit in s.early; they are replayed here in
// arrival order. Reports false when the connection epoch moved on.
func (s *Session) attachHandshake(generation uint64) bool {
	epoch := s.manager.Epoch()

	s.mu.Lock()
	if s.generation != generation || s.state != Connecting {
		s.mu.Unlock()
		return false
	}
	s.setStateLocked(AwaitingAuth)
	s.malformed = 0
	s.closeOverride = nil
	s.connEpoch = epoch
	handshake := newHandshake(s.config.AccessToken, func(payload []byte) error {
		return s.manager.SendOn(epoch, payload)
	}, s.logger)
	s.hs = handshake
	early := s.early
	s.early = nil
	s.mu.Unlock()

	handshake.start(s.clock, s.config.HandshakeTimeout, func() {
		s.abortConnection(generation, ErrHandshakeTimeout)
	})
	for _, message := range early {
		s.feedHandshake(generation, handshake, message)
	}
	return true
}

// connSender is the router's write path. It pins each frame to the
// connection the session is Ready on: once that connection's epoch is
// superseded the write fails with ErrNotConnected instead of racing
// onto a fresh, not-yet-authenticated socket.
type connSender struct {
	session *Session
}

func (c connSender) Send(payload []byte) error {
	s := c.session
	s.mu.Lock()
	ready := s.state == Ready
	epoch := s.connEpoch
	s.mu.Unlock()
	if !ready {
		return ErrNotConnected
	}
	return s.manager.SendOn(epoch, payload)
}

// connectFailed handles a synchronous dial failure: it never reaches
// HandleClose, so the retry scheduling happens here.
func (s *Session) connectFailed(generation uint64, dialErr error) {
	s.logger.Warn("dial failed", "url", s.config.URL, "error", dialErr)

	s.mu.Lock()
	if s.generation != generation || s.state.terminal() {
		s.mu.Unlock()
		return
	}
	if s.state == Closing {
		s.setStateLocked(Closed)
		close(s.done)
		s.mu.Unlock()
		s.registry.invalidateAll(ErrSessionClosed)
		return
	}
	s.scheduleRetryLocked(dialErr)
	invalidate := s.terminalInvalidationLocked()
	s.mu.Unlock()

	if invalidate != nil {
		s.registry.invalidateAll(invalidate)
	}
}

// HandleFrame implements transport.Handler. Frames arrive on the read
// goroutine in network order.
func (s *Session) HandleFrame(payload []byte) {
	message, err := wire.Decode(payload)
	if err != nil {
		s.noteMalformed(err)
		return
	}

	s.mu.Lock()
	if s.state == Connecting {
		// The read loop outran connect(): the socket is open but the
		// handshake is not attached yet. Held under the same lock
		// attachHandshake drains under, so the frame cannot be lost.
		s.early = append(s.early, message)
		s.mu.Unlock()
		return
	}
	state := s.state
	generation := s.generation
	handshake := s.hs
	s.mu.Unlock()

	switch state {
	case AwaitingAuth, Authenticating:
		s.feedHandshake(generation, handshake, message)
	case Ready:
		s.dispatch(message)
	default:
		// Closing or terminal: late frames are noise.
	}
}

// HandleClose implements transport.Handler: the single funnel for every
// connection death — peer close, network error, heartbeat miss,
// handshake timeout, local Stop. In-flight requests are always
// rejected; what happens next branches on why the connection ended.
func (s *Session) HandleClose(reason error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	if s.closeOverride != nil {
		reason = s.closeOverride
		s.closeOverride = nil
	}

	s.generation++
	s.early = nil
	s.stopHeartbeatLocked()
	var rejection *AuthRejectedError
	if s.hs != nil {
		s.hs.cancel()
		rejection = s.hs.rejectionError()
		s.hs = nil
	}

	var invalidate error
	switch {
	case s.state == Closing:
		s.setStateLocked(Closed)
		close(s.done)
		invalidate = ErrSessionClosed
	case rejection != nil:
		// Bad credentials, not a network blip: terminal, no retry.
		s.logger.Error("credential rejected, session failed", "code", rejection.Code)
		s.terminalErr = rejection
		s.setStateLocked(Failed)
		close(s.done)
		invalidate = rejection
	default:
		s.logger.Warn("connection lost", "reason", reason)
		s.scheduleRetryLocked(reason)
		invalidate = s.terminalInvalidationLocked()
	}
	s.mu.Unlock()

	s.router.failAll(reason)
	if invalidate != nil {
		s.registry.invalidateAll(invalidate)
	}
}

// feedHandshake advances the auth state machine with one frame.
func (s *Session) feedHandshake(generation uint64, handshake *handshake, message wire.Message) {
	if handshake == nil {
		return
	}
	outcome, err := handshake.feed(message)
	if err != nil {
		s.logger.Error("handshake failed", "error", err)
		s.abortConnection(generation, err)
		return
	}

	switch outcome {
	case authPending:
		if message.Type == wire.TypeChallenge {
			s.mu.Lock()
			if s.generation == generation && s.state == AwaitingAuth {
				s.setStateLocked(Authenticating)
			}
			s.mu.Unlock()
		}
	case authAccepted:
		s.becomeReady(generation, handshake)
	case authRejected:
		// HandleClose reads the rejection off the handshake and goes
		// terminal.
		s.manager.Close()
	case authTimedOut:
		// The timeout callback is already tearing the connection down.
	}
}

// becomeReady completes a successful handshake: Ready state, reset
// backoff, heartbeat on, buffered frames replayed, subscriptions
// restored.
func (s *Session) becomeReady(generation uint64, handshake *handshake) {
	s.mu.Lock()
	if s.generation != generation || (s.state != Authenticating && s.state != AwaitingAuth) {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(Ready)
	s.reconnect.reset()
	s.hs = nil
	s.startHeartbeatLocked(generation)
	resubscribe := s.registry.count() > 0
	s.mu.Unlock()

	s.logger.Info("session ready", "url", s.config.URL)

	// Application frames the hub pipelined behind the accept were
	// buffered by the handshake; replay them in arrival order.
	for _, buffered := range handshake.takeBuffered() {
		s.dispatch(buffered)
	}

	if resubscribe {
		// Off the read goroutine: the replayed subscribe requests wait
		// for result frames that only the read goroutine can deliver.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*s.config.RequestTimeout)
			defer cancel()
			s.registry.resubscribeAll(ctx)
		}()
	}
}

// dispatch routes one post-auth frame: correlated results to the
// router, push events to the registry, anything else to the log.
func (s *Session) dispatch(message wire.Message) {
	if s.router.handleFrame(message) {
		return
	}
	if message.Type == wire.TypeEvent {
		s.registry.dispatch(Event{
			Type:     message.EventType,
			EntityID: message.EntityID,
			Data:     message.Data,
		})
		return
	}
	if message.IsHandshake() {
		// The hub re-running handshake frames on an authenticated
		// connection is a protocol violation worth noticing.
		s.logger.Warn("handshake frame on authenticated connection", "type", message.Type)
		return
	}
	// Unmatched id or unexpected type: normal for late responses to
	// timed-out requests, otherwise a hub quirk. Not worth a
	// connection.
	s.logger.Debug("unhandled frame", "type", message.Type, "id", message.ID)
}

// noteMalformed counts an undecodable frame and recycles the connection
// past the per-connection budget.
func (s *Session) noteMalformed(decodeErr error) {
	s.mu.Lock()
	s.malformed++
	over := s.malformed == s.config.MalformedFrameLimit+1
	generation := s.generation
	s.mu.Unlock()

	s.logger.Warn("malformed frame", "error", decodeErr)
	if over {
		s.abortConnection(generation, fmt.Errorf("channel: %d malformed frames on one connection: %w", s.config.MalformedFrameLimit+1, decodeErr))
	}
}

// abortConnection force-closes the current connection with an explicit
// reason for HandleClose. Inert if the epoch already moved on.
func (s *Session) abortConnection(generation uint64, reason error) {
	s.mu.Lock()
	if s.generation != generation || s.state.terminal() || s.state == Closing {
		s.mu.Unlock()
		return
	}
	s.closeOverride = reason
	s.mu.Unlock()
	s.manager.Close()
}

// scheduleRetryLocked books the next connection attempt, or fails the
// session terminally when the policy is exhausted. Caller holds s.mu.
func (s *Session) scheduleRetryLocked(reason error) {
	delay, ok := s.reconnect.next()
	if !ok {
		s.logger.Error("reconnect attempts exhausted, session failed",
			"attempts", s.reconnect.attempts()-1, "reason", reason)
		s.terminalErr = fmt.Errorf("channel: reconnect attempts exhausted: %w", reason)
		s.setStateLocked(Failed)
		close(s.done)
		return
	}

	s.setStateLocked(Connecting)
	s.logger.Info("reconnect scheduled", "delay", delay, "attempt", s.reconnect.attempts())
	generation := s.generation
	s.retryTimer = s.clock.AfterFunc(delay, func() { s.connect(generation) })
}

// terminalInvalidationLocked returns the reason subscriptions must be
// invalidated with when scheduleRetryLocked went terminal, nil
// otherwise. Caller holds s.mu.
func (s *Session) terminalInvalidationLocked() error {
	if s.state == Failed {
		return s.terminalErr
	}
	return nil
}

func (s *Session) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// startHeartbeatLocked spawns the liveness loop for this connection
// epoch. Caller holds s.mu.
func (s *Session) startHeartbeatLocked(generation uint64) {
	stop := make(chan struct{})
	s.heartbeatStop = stop
	go s.heartbeatLoop(generation, stop)
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

// heartbeatLoop pings the hub every HeartbeatInterval while Ready. A
// miss (no pong within HeartbeatGrace) is treated exactly like a
// transport-level close and enters the reconnect path.
func (s *Session) heartbeatLoop(generation uint64, stop chan struct{}) {
	ticker := s.clock.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		sentAt := s.clock.Now()
		_, _, err := s.router.send(context.Background(), wire.Ping{Type: wire.TypePing}, s.config.HeartbeatGrace)
		if err != nil {
			select {
			case <-stop:
				// The connection already ended; the send failed as a
				// side effect of that, not as a liveness signal.
				return
			default:
			}
			s.logger.Warn("heartbeat missed", "error", err)
			s.abortConnection(generation, fmt.Errorf("channel: heartbeat missed: %w", err))
			return
		}

		s.mu.Lock()
		if s.generation == generation {
			s.lastHeartbeat = s.clock.Now()
			s.heartbeatLatency = s.lastHeartbeat.Sub(sentAt)
		}
		s.mu.Unlock()
	}
}

// setStateLocked is the only place the state changes. Caller holds
// s.mu.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("state transition", "from", s.state, "to", next)
	s.state = next
	close(s.stateChanged)
	s.stateChanged = make(chan struct{})
}
