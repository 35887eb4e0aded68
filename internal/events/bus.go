package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight in-process pub/sub broker. Publishers never
// block: slow subscribers lose messages rather than stall the core.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for a topic and returns the channel
// plus an unsubscribe function that also closes it.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to current subscribers of the topic.
// A subscriber whose buffer is full loses the payload; the loss is
// counted rather than allowed to stall the publisher.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many payloads have been discarded because a
// subscriber's buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
