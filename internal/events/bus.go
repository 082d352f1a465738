// Package events fans queue transitions out to observers (audit log,
// metrics) without ever blocking the main loop.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventMessageEnqueued EventType = "message_enqueued"
	// EventMessageDropped: duplicate key or destroyed scope.
	EventMessageDropped   EventType = "message_dropped"
	EventMessageShown     EventType = "message_shown"
	EventMessageHidden    EventType = "message_hidden"
	EventMessageDismissed EventType = "message_dismissed"
	// EventQueueSuspended and EventQueueResumed fire once per token.
	EventQueueSuspended EventType = "queue_suspended"
	EventQueueResumed   EventType = "queue_resumed"
)

// MessageEvents lists every event type the message queue publishes.
var MessageEvents = []EventType{
	EventMessageEnqueued,
	EventMessageDropped,
	EventMessageShown,
	EventMessageHidden,
	EventMessageDismissed,
	EventQueueSuspended,
	EventQueueResumed,
}

// Data keys shared by message events.
const (
	KeyRecordID   = "record_id"
	KeyIdentifier = "identifier"
	KeyScope      = "scope"
	KeyPriority   = "priority"
	KeyReason     = "reason"
	KeyTokens     = "tokens"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

type Subscriber func(Event)

type subscription struct {
	types []EventType // empty matches every type
	ch    chan Event
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Bus delivers each event to every matching subscriber on that
// subscriber's own goroutine, in publish order. A subscriber whose buffer
// is full loses the event; Dropped counts those losses.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	closed  bool
	buffer  int
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewBus sizes each subscriber buffer to bufferSize (default 100).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{buffer: bufferSize}
}

// Subscribe calls fn for every published event of the given types, or of
// every type when none are given. The returned func unsubscribes.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) func() {
	sub := &subscription{types: types, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	go b.deliver(sub, fn)

	return func() { b.remove(sub) }
}

func (b *Bus) deliver(sub *subscription, fn Subscriber) {
	defer b.wg.Done()
	for e := range sub.ch {
		func() {
			defer func() { _ = recover() }()
			fn(e)
		}()
	}
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	close(sub.ch)
}

// Publish never blocks. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	e := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(eventType) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were lost to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits until every subscriber has
// drained what was already queued for it.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
}
