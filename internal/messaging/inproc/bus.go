package inproc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"courier_grid/internal/domain"
)

var ErrSubscriberQueueFull = errors.New("subscriber queue is full")

// Bus fans simulation events out to named subscribers. Publish never blocks;
// a subscriber that falls behind loses events.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]chan domain.Event
	buffer  int
	dropped atomic.Int64
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.Event),
		buffer: buffer,
	}
}

func (b *Bus) Register(name string) <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[name]; ok {
		return ch
	}
	ch := make(chan domain.Event, b.buffer)
	b.subs[name] = ch
	return ch
}

func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[name]
	if !ok {
		return
	}
	delete(b.subs, name)
	close(ch)
}

func (b *Bus) Publish(ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var full []string
	for name, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			full = append(full, name)
		}
	}
	if len(full) > 0 {
		sort.Strings(full)
		return fmt.Errorf("%w: %v", ErrSubscriberQueueFull, full)
	}
	return nil
}

// Dropped is the number of deliveries lost to full queues.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
