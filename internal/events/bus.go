// Package events provides the typed publish/subscribe bus for lifecycle
// events. Handlers are registered explicitly and isolated from one another: a
// panicking handler never affects other handlers or the emitting operation.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"attestor/internal/domain"
)

// Event is the payload fanned out to subscribers after a lifecycle
// operation completes.
type Event struct {
	Type                 domain.EventType
	AttestationID        string
	Actor                string
	Timestamp            time.Time
	Operation            string
	Details              map[string]any
	Result               domain.Result
	CulturallySensitive  bool
	ComplianceFrameworks []domain.ComplianceFramework
}

// Handler consumes a single event. Implementations must tolerate concurrent
// invocation for distinct events.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Subscription identifies a registered handler for later removal.
type Subscription struct {
	eventType domain.EventType
	id        int
}

// Bus dispatches events asynchronously while preserving publication order:
// all handlers for event N complete before event N+1 is dispatched, so a
// VERIFIED event is never observed before its attestation's CREATED event.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[domain.EventType]map[int]Handler

	queue  chan Event
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
}

// NewBus starts the dispatch loop. Close releases it.
func NewBus(logger *slog.Logger) *Bus {
	b := &Bus{
		handlers: make(map[domain.EventType]map[int]Handler),
		queue:    make(chan Event, 256),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go b.dispatch()
	return b
}

// Register subscribes a handler to one event type.
func (b *Bus) Register(eventType domain.EventType, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	b.handlers[eventType][b.nextID] = h
	return Subscription{eventType: eventType, id: b.nextID}
}

// RegisterAll subscribes a handler to every known lifecycle event type.
func (b *Bus) RegisterAll(h Handler) []Subscription {
	types := []domain.EventType{
		domain.EventCreated, domain.EventVerified, domain.EventRevoked,
		domain.EventExpired, domain.EventBulkOperationCompleted,
		domain.EventCulturalClearanceGranted, domain.EventEmergencyOverride,
		domain.EventTransformApplied,
	}
	subs := make([]Subscription, 0, len(types))
	for _, t := range types {
		subs = append(subs, b.Register(t, h))
	}
	return subs
}

// Unregister removes a previously registered handler.
func (b *Bus) Unregister(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.handlers[sub.eventType]; m != nil {
		delete(m, sub.id)
	}
}

// Publish enqueues an event for asynchronous delivery. It never blocks the
// caller beyond queue backpressure and never returns handler failures.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case b.queue <- ev:
	case <-b.done:
	}
}

// Close stops the dispatch loop after draining queued events.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bus) dispatch() {
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-b.queue:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver invokes all handlers for the event in parallel and waits for them,
// keeping cross-event ordering intact.
func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[ev.Type]))
	for _, h := range b.handlers[ev.Type] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range hs {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil && b.logger != nil {
					b.logger.Error("event handler panicked",
						"eventType", string(ev.Type),
						"attestationId", ev.AttestationID,
						"panic", r,
					)
				}
			}()
			h.Handle(context.Background(), ev)
		}(h)
	}
	wg.Wait()
}
