// Package eventbus provides non-blocking fan-out of ledger domain events.
//
// Events published to the bus are delivered to every registered subscriber
// over its own buffered channel. If a subscriber's channel is full the
// event is dropped for that subscriber and the drop is counted; Publish
// never waits on a slow consumer. The ledger has already committed by the
// time an event is published, so a dropped event loses a notification,
// never data.
//
// # Basic Usage
//
//	bus := eventbus.New()
//	defer bus.Close()
//
//	ch := make(chan engine.DomainEvent, 64)
//	bus.Subscribe("dashboard", ch)
//
//	eng := engine.New(store, engine.WithPublisher(bus))
//
// # Thread Safety
//
// All methods are safe for concurrent use. Publish after Close is a no-op.
package eventbus

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/warp/qurban-ledger/engine"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with an unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")

	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("bus is closed")

	// ErrNilChannel is returned when Subscribe is given a nil channel.
	ErrNilChannel = errors.New("subscriber channel cannot be nil")
)

// Stats is a snapshot of bus counters.
type Stats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// SubscriberStats tracks delivery for a single subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch      chan<- engine.DomainEvent
	topics  map[engine.Topic]bool
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (s *subscriber) wants(t engine.Topic) bool {
	return len(s.topics) == 0 || s.topics[t]
}

// Bus implements engine.Publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	totalPublished atomic.Uint64
}

var _ engine.Publisher = (*Bus)(nil)

func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id. With no topics the subscriber receives
// every event.
func (b *Bus) Subscribe(id string, ch chan<- engine.DomainEvent, topics ...engine.Topic) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	sub := &subscriber{ch: ch}
	if len(topics) > 0 {
		sub.topics = make(map[engine.Topic]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}
	b.subscribers[id] = sub
	return nil
}

func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Publish delivers ev to every interested subscriber without blocking.
func (b *Bus) Publish(ev engine.DomainEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.totalPublished.Add(1)

	for _, sub := range b.subscribers {
		if !sub.wants(ev.Topic) {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		s := SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}
		st.Subscribers[id] = s
		st.TotalSent += s.Sent
		st.TotalDropped += s.Dropped
	}
	return st
}

// SubscriberIDs returns the registered ids in sorted order.
func (b *Bus) SubscriberIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops delivery. Subscriber channels are owned by their subscribers
// and are not closed here.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.subscribers = make(map[string]*subscriber)
	return nil
}
