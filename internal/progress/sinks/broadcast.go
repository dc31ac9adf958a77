package sinks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

const defaultSubscriberBuffer = 256

// BroadcastSink fans events out to live subscribers such as SSE clients.
// A subscriber that cannot keep up loses events instead of stalling the hub.
type BroadcastSink struct {
	mu      sync.RWMutex
	subs    map[uint64]chan progress.Event
	nextID  uint64
	closed  bool
	dropped atomic.Int64
}

// NewBroadcastSink returns a sink with no subscribers.
func NewBroadcastSink() *BroadcastSink {
	return &BroadcastSink{subs: make(map[uint64]chan progress.Event)}
}

// Subscribe registers a new observer. The returned cancel func detaches it
// and closes the channel; it is safe to call more than once. Subscribing to
// a closed sink yields an already closed channel.
func (b *BroadcastSink) Subscribe(buffer int) (<-chan progress.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan progress.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *BroadcastSink) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribers reports the number of attached observers.
func (b *BroadcastSink) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports events discarded because a subscriber buffer was full.
func (b *BroadcastSink) Dropped() int64 {
	return b.dropped.Load()
}

// Consume delivers the batch to every subscriber in order without blocking.
func (b *BroadcastSink) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, evt := range batch {
		for _, ch := range b.subs {
			select {
			case ch <- evt:
			default:
				b.dropped.Add(1)
			}
		}
	}
	return nil
}

// Close detaches and closes every subscriber channel.
func (b *BroadcastSink) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
