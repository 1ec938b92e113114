// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/homewire/homewire/lib/clock"
	"github.com/homewire/homewire/wire"
)

// sentFrames collects the payloads a handshake wrote to its sender.
type sentFrames struct {
	frames [][]byte
	err    error
}

func (s *sentFrames) send(payload []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, payload)
	return nil
}

func (s *sentFrames) decodeCredential(t *testing.T, index int) wire.Credential {
	t.Helper()
	if index >= len(s.frames) {
		t.Fatalf("expected at least %d sent frames, have %d", index+1, len(s.frames))
	}
	var credential wire.Credential
	if err := json.Unmarshal(s.frames[index], &credential); err != nil {
		t.Fatalf("decoding sent frame %d: %v", index, err)
	}
	return credential
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHandshakeChallengeSendsCredential(t *testing.T) {
	sent := &sentFrames{}
	h := newHandshake("token-abc", sent.send, testLogger())

	outcome, err := h.feed(wire.Message{Type: wire.TypeChallenge, HubVersion: "2026.8"})
	if err != nil {
		t.Fatalf("feed(challenge): %v", err)
	}
	if outcome != authPending {
		t.Fatalf("outcome = %v, want authPending", outcome)
	}

	credential := sent.decodeCredential(t, 0)
	if credential.Type != wire.TypeCredential {
		t.Errorf("credential type = %q, want %q", credential.Type, wire.TypeCredential)
	}
	if credential.AccessToken != "token-abc" {
		t.Errorf("access token = %q, want token-abc", credential.AccessToken)
	}
}

func TestHandshakeDuplicateChallengeSendsCredentialOnce(t *testing.T) {
	sent := &sentFrames{}
	h := newHandshake("token-abc", sent.send, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := h.feed(wire.Message{Type: wire.TypeChallenge}); err != nil {
			t.Fatalf("feed(challenge) #%d: %v", i, err)
		}
	}
	if len(sent.frames) != 1 {
		t.Fatalf("sent %d frames, want exactly 1 credential", len(sent.frames))
	}
}

func TestHandshakeAccept(t *testing.T) {
	sent := &sentFrames{}
	h := newHandshake("token-abc", sent.send, testLogger())

	h.feed(wire.Message{Type: wire.TypeChallenge})
	outcome, err := h.feed(wire.Message{Type: wire.TypeAccept})
	if err != nil {
		t.Fatalf("feed(accept): %v", err)
	}
	if outcome != authAccepted {
		t.Fatalf("outcome = %v, want authAccepted", outcome)
	}
	if h.rejectionError() != nil {
		t.Error("rejectionError should be nil after accept")
	}
}

func TestHandshakeReject(t *testing.T) {
	sent := &sentFrames{}
	h := newHandshake("bad-token", sent.send, testLogger())

	h.feed(wire.Message{Type: wire.TypeChallenge})
	outcome, err := h.feed(wire.Message{Type: wire.TypeReject, Code: "invalid_auth", Reason: "token expired"})
	if err != nil {
		t.Fatalf("feed(reject): %v", err)
	}
	if outcome != authRejected {
		t.Fatalf("outcome = %v, want authRejected", outcome)
	}

	rejection := h.rejectionError()
	if rejection == nil {
		t.Fatal("rejectionError is nil after reject")
	}
	if rejection.Code != "invalid_auth" || rejection.Message != "token expired" {
		t.Errorf("rejection = %+v, want code invalid_auth / token expired", rejection)
	}
}

func TestHandshakeBuffersApplicationFrames(t *testing.T) {
	sent := &sentFrames{}
	h := newHandshake("token-abc", sent.send, testLogger())

	h.feed(wire.Message{Type: wire.TypeChallenge})
	// The hub may pipeline application frames behind the accept; frames
	// arriving before resolution must be held, not dropped.
	h.feed(wire.Message{Type: wire.TypeEvent, EventType: "state_changed", EntityID: "light.kitchen"})
	h.feed(wire.Message{Type: wire.TypeAccept})
	h.feed(wire.Message{Type: wire.TypeEvent, EventType: "state_changed", EntityID: "light.porch"})

	buffered := h.takeBuffered()
	if len(buffered) != 2 {
		t.Fatalf("buffered %d frames, want 2", len(buffered))
	}
	if buffered[0].EntityID != "light.kitchen" || buffered[1].EntityID != "light.porch" {
		t.Errorf("buffered order wrong: %q then %q", buffered[0].EntityID, buffered[1].EntityID)
	}
	if again := h.takeBuffered(); len(again) != 0 {
		t.Errorf("second takeBuffered returned %d frames, want 0", len(again))
	}
}

func TestHandshakeTimeoutFires(t *testing.T) {
	fake := clock.Fake(time.Unix(1756000000, 0))
	sent := &sentFrames{}
	h := newHandshake("token-abc", sent.send, testLogger())

	fired := make(chan struct{}, 1)
	h.start(fake, 10*time.Second, func() { fired <- struct{}{} })

	h.feed(wire.Message{Type: wire.TypeChallenge})
	fake.Advance(10 * time.Second)

	select {
	case <-fired:
	default:
		t.Fatal("timeout callback did not fire")
	}

	// An accept after the deadline does not resurrect the handshake.
	outcome, _ := h.feed(wire.Message{Type: wire.TypeAccept})
	if outcome != authTimedOut {
		t.Errorf("outcome after late accept = %v, want authTimedOut", outcome)
	}
}

func TestHandshakeAcceptDisarmsTimeout(t *testing.T) {
	fake := clock.Fake(time.Unix(1756000000, 0))
	sent := &sentFrames{}
	h := newHandshake("token-abc", sent.send, testLogger())

	fired := make(chan struct{}, 1)
	h.start(fake, 10*time.Second, func() { fired <- struct{}{} })

	h.feed(wire.Message{Type: wire.TypeChallenge})
	h.feed(wire.Message{Type: wire.TypeAccept})
	fake.Advance(time.Minute)

	select {
	case <-fired:
		t.Fatal("timeout fired after the handshake resolved")
	default:
	}
}

func TestHandshakeCancelDisarmsTimeout(t *testing.T) {
	fake := clock.Fake(time.Unix(1756000000, 0))
	sent := &sentFrames{}
	h := newHandshake("token-abc", sent.send, testLogger())

	fired := make(chan struct{}, 1)
	h.start(fake, 10*time.Second, func() { fired <- struct{}{} })
	h.cancel()
	fake.Advance(time.Minute)

	select {
	case <-fired:
		t.Fatal("timeout fired after cancel")
	default:
	}
}

func TestHandshakeStartAfterResolutionArmsNoTimer(t *testing.T) {
	fake := clock.Fake(time.Unix(1756000000, 0))
	sent := &sentFrames{}
	h := newHandshake("token-abc", sent.send, testLogger())

	// Frames can resolve the handshake before start runs (the read loop
	// is already pumping when the deadline gets armed). A resolved
	// handshake must not leave a timer pending.
	h.feed(wire.Message{Type: wire.TypeChallenge})
	h.feed(wire.Message{Type: wire.TypeAccept})

	fired := make(chan struct{}, 1)
	h.start(fake, 10*time.Second, func() { fired <- struct{}{} })

	if got := fake.Pending(); got != 0 {
		t.Fatalf("%d timers pending after post-resolution start, want 0", got)
	}
	fake.Advance(time.Minute)
	select {
	case <-fired:
		t.Fatal("timeout fired for a handshake that had already resolved")
	default:
	}
}

func TestHandshakeSendFailureSurfaces(t *testing.T) {
	sendErr := errors.New("socket gone")
	sent := &sentFrames{err: sendErr}
	h := newHandshake("token-abc", sent.send, testLogger())

	_, err := h.feed(wire.Message{Type: wire.TypeChallenge})
	if !errors.Is(err, sendErr) {
		t.Fatalf("feed error = %v, want wrapped %v", err, sendErr)
	}
}
