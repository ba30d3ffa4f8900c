package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Observer receives events. Notify is called with the broadcaster lock held:
// it must return quickly and must not call back into the broadcaster.
type Observer interface {
	Notify(event Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(event Event)

func (f ObserverFunc) Notify(event Event) {
	f(event)
}

// Publisher is the write side handed to event producers
type Publisher interface {
	Publish(event Event)
}

type subscription struct {
	id       string
	observer Observer
}

// Broadcaster fans events out to the observers registered at publish time.
// There is no buffering and no replay.
type Broadcaster struct {
	subscriptions []subscription
	lock          sync.Mutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers observer and returns its subscription id. Events
// published before Subscribe returns are never delivered to it.
func (b *Broadcaster) Subscribe(observer Observer) string {
	id := uuid.NewString()
	b.lock.Lock()
	defer b.lock.Unlock()
	b.subscriptions = append(b.subscriptions, subscription{id: id, observer: observer})
	return id
}

// Unsubscribe removes a subscription. It waits for an in-flight Publish, so
// once it returns the observer receives nothing further.
func (b *Broadcaster) Unsubscribe(id string) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	for i, s := range b.subscriptions {
		if s.id == id {
			b.subscriptions = append(b.subscriptions[:i:i], b.subscriptions[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers event to every current subscriber, in subscription order.
func (b *Broadcaster) Publish(event Event) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, s := range b.subscriptions {
		s.observer.Notify(event)
	}
}

func (b *Broadcaster) Count() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.subscriptions)
}

// ChannelObserver queues events on a bounded channel without ever blocking
// the publisher. Events that do not fit are dropped and counted.
type ChannelObserver struct {
	events  chan Event
	dropped int64
}

func NewChannelObserver(capacity int) *ChannelObserver {
	if capacity <= 0 {
		capacity = 256
	}
	return &ChannelObserver{events: make(chan Event, capacity)}
}

func (o *ChannelObserver) Notify(event Event) {
	select {
	case o.events <- event:
	default:
		atomic.AddInt64(&o.dropped, 1)
	}
}

// Events is the receive side of the queue
func (o *ChannelObserver) Events() <-chan Event {
	return o.events
}

func (o *ChannelObserver) Dropped() int64 {
	return atomic.LoadInt64(&o.dropped)
}
