// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homewire/homewire/lib/clock"
	"github.com/homewire/homewire/wire"
)

// Event is one push frame delivered to subscription callbacks. Data is
// the opaque application payload; the channel never interprets it.
type Event struct {
	Type     string
	EntityID string
	Data     json.RawMessage
}

// EventFunc receives dispatched events. Callbacks run on the
// connection's read goroutine: they must not block, and they must not
// call Send on the same session synchronously (hand off to another
// goroutine instead).
type EventFunc func(event Event)

// SubscribeOptions carries the optional parts of a subscription.
type SubscribeOptions struct {
	// TTL auto-expires the subscription after the given duration.
	// Expiry behaves exactly like an explicit Unsubscribe. Zero means
	// no expiry.
	TTL time.Duration

	// OnClose is called when the registry invalidates the subscription
	// without the caller asking: session teardown, terminal failure, or
	// a failed re-subscribe after reconnect. Not called on explicit
	// Unsubscribe or TTL expiry.
	OnClose func(err error)
}

// commander issues correlated requests on the session's channel. The
// returned id is the request's correlation id, which doubles as the
// server-side subscription identifier.
type commander interface {
	call(ctx context.Context, payload any) (json.RawMessage, uint64, error)
}

// subscription is the registry's internal record.
type subscription struct {
	id           string
	eventType    string
	entityFilter string
	callback     EventFunc
	onClose      func(err error)
	ttl          time.Duration
	expiry       clock.Timer
	createdAt    time.Time

	// serverID is the correlation id of the subscribe request on the
	// current physical connection; it changes on re-subscribe.
	serverID uint64
}

// registry owns the live subscription set and fans inbound push events
// out to matching callbacks. The subscription table has exactly one
// writer path (this type); the session never touches records directly.
type registry struct {
	commander commander
	clock     clock.Clock
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

func newRegistry(commander commander, clk clock.Clock, logger *slog.Logger) *registry {
	return &registry{
		commander: commander,
		clock:     clk,
		logger:    logger,
		subs:      make(map[string]*subscription),
	}
}

// subscribe registers a subscription and sets it up server-side. Setup
// failure removes the record and surfaces the error; the caller never
// holds a handle to a half-registered subscription.
func (r *registry) subscribe(ctx context.Context, eventType, entityFilter string, callback EventFunc, options SubscribeOptions) (*Subscription, error) {
	if eventType == "" {
		return nil, fmt.Errorf("channel: subscribe requires an event type")
	}
	if callback == nil {
		return nil, fmt.Errorf("channel: subscribe requires a callback")
	}

	record := &subscription{
		id:           uuid.NewString(),
		eventType:    eventType,
		entityFilter: entityFilter,
		callback:     callback,
		onClose:      options.OnClose,
		ttl:          options.TTL,
		createdAt:    r.clock.Now(),
	}

	serverID, err := r.setup(ctx, record)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	record.serverID = serverID
	if record.ttl > 0 {
		id := record.id
		record.expiry = r.clock.AfterFunc(record.ttl, func() { r.expire(id) })
	}
	r.subs[record.id] = record
	r.mu.Unlock()

	return &Subscription{registry: r, id: record.id, eventType: eventType, entityFilter: entityFilter}, nil
}

// setup sends the protocol-level subscribe request and returns its
// correlation id.
func (r *registry) setup(ctx context.Context, record *subscription) (uint64, error) {
	_, serverID, err := r.commander.call(ctx, wire.Subscribe{
		Type:      wire.TypeSubscribe,
		EventType: record.eventType,
		EntityID:  record.entityFilter,
	})
	if err != nil {
		return 0, fmt.Errorf("channel: subscribing to %s: %w", record.eventType, err)
	}
	return serverID, nil
}

// dispatch fans one push event out to every matching subscription: the
// event type must match, and the entity filter (when set) must equal the
// event's entity id. Zero matches is normal.
func (r *registry) dispatch(event Event) {
	r.mu.Lock()
	var matched []EventFunc
	for _, record := range r.subs {
		if record.eventType != event.Type {
			continue
		}
		if record.entityFilter != "" && record.entityFilter != event.EntityID {
			continue
		}
		matched = append(matched, record.callback)
	}
	r.mu.Unlock()

	for _, callback := range matched {
		callback(event)
	}
}

// unsubscribe removes the record and best-effort cancels it server-side.
// Local removal is authoritative for dispatch: a server-side failure is
// logged, not returned.
func (r *registry) unsubscribe(ctx context.Context, id string) {
	record := r.remove(id)
	if record == nil {
		return
	}

	if _, _, err := r.commander.call(ctx, wire.Unsubscribe{
		Type:         wire.TypeUnsubscribe,
		Subscription: record.serverID,
	}); err != nil {
		r.logger.Warn("server-side unsubscribe failed",
			"subscription", record.id,
			"event_type", record.eventType,
			"error", err,
		)
	}
}

// expire is the TTL timer's target; identical to an explicit
// unsubscribe.
func (r *registry) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.unsubscribe(ctx, id)
}

// remove takes the record out of the table and disarms its timer.
func (r *registry) remove(id string) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.subs[id]
	if !ok {
		return nil
	}
	delete(r.subs, id)
	if record.expiry != nil {
		record.expiry.Stop()
		record.expiry = nil
	}
	return record
}

// invalidateAll tears down every subscription, notifying each OnClose
// with the reason. No server-side unsubscribe: the connection is
// already gone. Subscriptions are never silently forgotten.
func (r *registry) invalidateAll(reason error) {
	r.mu.Lock()
	invalidated := r.subs
	r.subs = make(map[string]*subscription)
	for _, record := range invalidated {
		if record.expiry != nil {
			record.expiry.Stop()
			record.expiry = nil
		}
	}
	r.mu.Unlock()

	for _, record := range invalidated {
		if record.onClose != nil {
			record.onClose(reason)
		}
	}
}

// resubscribeAll replays the subscribe request for every live
// subscription after a reconnect. A record whose replay fails is
// invalidated through its OnClose with the setup error — the caller
// learns its subscription died rather than silently losing events.
func (r *registry) resubscribeAll(ctx context.Context) {
	r.mu.Lock()
	records := make([]*subscription, 0, len(r.subs))
	for _, record := range r.subs {
		records = append(records, record)
	}
	r.mu.Unlock()

	for _, record := range records {
		serverID, err := r.setup(ctx, record)
		if err != nil {
			r.logger.Warn("re-subscribe after reconnect failed",
				"subscription", record.id,
				"event_type", record.eventType,
				"error", err,
			)
			removed := r.remove(record.id)
			if removed != nil && removed.onClose != nil {
				removed.onClose(err)
			}
			continue
		}
		r.mu.Lock()
		record.serverID = serverID
		r.mu.Unlock()
	}
}

// count reports the live subscription count.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Subscription is the caller's handle on one live subscription.
type Subscription struct {
	registry     *registry
	id           string
	eventType    string
	entityFilter string
}

// ID returns the opaque subscription identifier.
func (s *Subscription) ID() string { return s.id }

// EventType returns the subscribed event type.
func (s *Subscription) EventType() string { return s.eventType }

// EntityFilter returns the entity filter, empty when unfiltered.
func (s *Subscription) EntityFilter() string { return s.entityFilter }

// Unsubscribe cancels the subscription. Local removal always succeeds
// and is authoritative; the server-side cancel is best effort.
// Idempotent.
func (s *Subscription) Unsubscribe(ctx context.Context) {
	s.registry.unsubscribe(ctx, s.id)
}
