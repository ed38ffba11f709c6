// Package events provides a small multicast broadcaster used for the
// engine's observation streams. Every current subscriber receives every
// event published after it subscribed; a slow subscriber never blocks the
// publisher (events to a full subscriber buffer are dropped).
package events

import "sync"

// Broadcaster fans events out to all current subscribers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscriber channels buffer the
// given number of events.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes the
// subscription and closes its channel; it is safe to call more than once.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to every current subscriber.
func (b *Broadcaster[T]) Publish(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop rather than stall the publisher.
		}
	}
}

// Close tears the broadcaster down and closes all subscriber channels.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Value is a broadcaster that additionally retains the latest published
// event, so late subscribers can read the current value.
type Value[T any] struct {
	b  *Broadcaster[T]
	mu sync.RWMutex
	v  T
	ok bool
}

// NewValue creates a current-value broadcaster.
func NewValue[T any](buffer int) *Value[T] {
	return &Value[T]{b: NewBroadcaster[T](buffer)}
}

// Set publishes a new current value.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.v = val
	v.ok = true
	v.mu.Unlock()
	v.b.Publish(val)
}

// Get returns the current value, if one has been set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v, v.ok
}

// Subscribe registers a subscriber for future values.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	return v.b.Subscribe()
}

// Close tears down the underlying broadcaster.
func (v *Value[T]) Close() {
	v.b.Close()
}
