package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attestor/internal/domain"
	"attestor/internal/platform/logger"
)

// collector records events it receives, in order.
type collector struct {
	mu     sync.Mutex
	events []Event
	wg     *sync.WaitGroup
}

func (c *collector) Handle(_ context.Context, ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	if c.wg != nil {
		c.wg.Done()
	}
}

func (c *collector) seen() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestPublishDeliversToRegisteredHandler(t *testing.T) {
	bus := NewBus(logger.Discard())
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	c := &collector{wg: &wg}
	bus.Register(domain.EventCreated, c)

	bus.Publish(Event{Type: domain.EventCreated, AttestationID: "att-1"})
	wg.Wait()

	events := c.seen()
	require.Len(t, events, 1)
	assert.Equal(t, "att-1", events[0].AttestationID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestEventsDeliveredInPublicationOrder(t *testing.T) {
	bus := NewBus(logger.Discard())
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	c := &collector{wg: &wg}
	bus.RegisterAll(c)

	bus.Publish(Event{Type: domain.EventCreated, AttestationID: "att-1"})
	bus.Publish(Event{Type: domain.EventVerified, AttestationID: "att-1"})
	wg.Wait()

	events := c.seen()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventCreated, events[0].Type)
	assert.Equal(t, domain.EventVerified, events[1].Type)
}

func TestRegisterAllCoversEveryEventType(t *testing.T) {
	bus := NewBus(logger.Discard())
	defer bus.Close()

	all := []domain.EventType{
		domain.EventCreated, domain.EventVerified, domain.EventRevoked,
		domain.EventExpired, domain.EventBulkOperationCompleted,
		domain.EventCulturalClearanceGranted, domain.EventEmergencyOverride,
		domain.EventTransformApplied,
	}

	var wg sync.WaitGroup
	wg.Add(len(all))
	c := &collector{wg: &wg}
	bus.RegisterAll(c)

	for _, et := range all {
		bus.Publish(Event{Type: et, AttestationID: "att-1"})
	}
	wg.Wait()

	seen := make(map[domain.EventType]bool)
	for _, ev := range c.seen() {
		seen[ev.Type] = true
	}
	for _, et := range all {
		assert.True(t, seen[et], "no delivery for %s", et)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(logger.Discard())
	defer bus.Close()

	bus.Register(domain.EventCreated, HandlerFunc(func(context.Context, Event) {
		panic("handler bug")
	}))

	var wg sync.WaitGroup
	wg.Add(2)
	c := &collector{wg: &wg}
	bus.Register(domain.EventCreated, c)

	bus.Publish(Event{Type: domain.EventCreated, AttestationID: "att-1"})
	bus.Publish(Event{Type: domain.EventCreated, AttestationID: "att-2"})
	wg.Wait()

	assert.Len(t, c.seen(), 2)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	bus := NewBus(logger.Discard())
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	c := &collector{wg: &wg}
	sub := bus.Register(domain.EventRevoked, c)

	bus.Publish(Event{Type: domain.EventRevoked, AttestationID: "att-1"})
	wg.Wait()

	bus.Unregister(sub)
	bus.Publish(Event{Type: domain.EventRevoked, AttestationID: "att-2"})

	// Give the dispatch loop a beat; nothing further should arrive.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.seen(), 1)
}
