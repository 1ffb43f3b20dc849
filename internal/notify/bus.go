package notify

import (
	"context"
	"sync"
)

// Bus is an in-process fan-out used by the notification stream. Slow
// subscribers miss notifications instead of blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Notification]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Notification]struct{})}
}

func (b *Bus) Notify(_ context.Context, n Notification) error {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
			// subscriber is behind
		}
	}
	b.mu.RUnlock()
	return nil
}

// Subscribe returns a buffered channel receiving every notification.
func (b *Bus) Subscribe() chan Notification {
	ch := make(chan Notification, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it.
func (b *Bus) Unsubscribe(ch chan Notification) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
