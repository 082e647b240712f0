// Package telemetry implements the telemetry bus (C13): best-effort
// fan-out of metrics, logs, and position/order snapshots over an
// in-process publish-subscribe transport. Delivery is lossy and
// non-authoritative — a slow or absent subscriber never blocks a
// publisher, and nothing downstream of the bus is allowed to become the
// system of record for anything it carries.
package telemetry

import (
	"log"
	"sync"
	"time"
)

// Topic names the channel a message was published on. Readers subscribe
// to the topics they care about; the bus does no routing beyond this tag.
type Topic string

const (
	TopicMetrics  Topic = "telemetry.metrics"
	TopicPositions Topic = "telemetry.positions"
	TopicLogs     Topic = "telemetry.logs"
)

// HealthTopic builds the per-node health topic telemetry.health.<node>.
func HealthTopic(node string) Topic {
	return Topic("telemetry.health." + node)
}

// Event is the envelope every message travels in. Data is left as
// interface{} deliberately: the bus is a transport, not a schema
// registry, and subscribers know the shape for the topics they listen on.
type Event struct {
	Topic     Topic
	Data      interface{}
	Timestamp time.Time
}

// Subscriber is a registered receiver. Send is buffered; a full buffer
// means the subscriber is too slow and starts dropping messages rather
// than stalling the bus.
type Subscriber struct {
	ID   string
	Send chan Event
}

// Bus is the in-process fan-out. One Bus per process; publishers and
// subscribers never address each other directly.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *log.Logger

	// lastSnapshot holds the most recently published event per topic, so
	// a subscriber joining mid-session can ask for current state instead
	// of waiting for the next publish (spec's "last-wins for snapshots").
	lastSnapshot map[Topic]Event

	mirror Mirror
}

// Mirror is an optional best-effort external sink (e.g. a Postgres
// LISTEN/NOTIFY fanout) that receives a copy of every published event.
// A Mirror error is logged and otherwise ignored — it must never affect
// in-process delivery.
type Mirror interface {
	Notify(topic Topic, data interface{}) error
}

// NewBus creates an empty telemetry bus. Pass a nil logger to use the
// standard logger.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subscribers:  make(map[string]*Subscriber),
		lastSnapshot: make(map[Topic]Event),
		logger:       logger,
	}
}

// SetMirror attaches an external mirror. Pass nil to detach.
func (b *Bus) SetMirror(m Mirror) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = m
}

// Subscribe registers a new subscriber with the given buffer size and
// returns it. Callers drain Send in their own goroutine.
func (b *Bus) Subscribe(id string, buffer int) *Subscriber {
	s := &Subscriber{ID: id, Send: make(chan Event, buffer)}
	b.mu.Lock()
	b.subscribers[id] = s
	n := len(b.subscribers)
	b.mu.Unlock()
	SetSubscriberGauge(n)
	return s
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if s, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(s.Send)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	SetSubscriberGauge(n)
}

// Publish fans data out to every subscriber on topic, non-blocking, and
// updates the last-wins snapshot for the topic. If a mirror is attached
// it is notified too; mirror failures are logged, never propagated.
func (b *Bus) Publish(topic Topic, data interface{}) {
	evt := Event{Topic: topic, Data: data, Timestamp: time.Now()}

	b.mu.Lock()
	b.lastSnapshot[topic] = evt
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	mirror := b.mirror
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.Send <- evt:
		default:
			b.logger.Printf("telemetry: subscriber %s backlogged, dropping event on %s", s.ID, topic)
		}
	}

	if mirror != nil {
		if err := mirror.Notify(topic, data); err != nil {
			b.logger.Printf("telemetry: mirror notify failed for %s: %v", topic, err)
		}
	}
}

// LastSnapshot returns the most recently published event for topic, if
// any, so a late-joining subscriber can catch up on current state.
func (b *Bus) LastSnapshot(topic Topic) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evt, ok := b.lastSnapshot[topic]
	return evt, ok
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
