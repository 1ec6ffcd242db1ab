// Package dispatch carries typed action messages between the listeners, the
// audit pipeline and the trading engines.
package dispatch

import (
	"sync"

	"github.com/justbytes/evmsniper/internal/domain"
)

// Bus fans out messages to all subscribers via buffered channels. The
// listener side publishes audit requests, the audit pipeline publishes trade
// requests, and any number of observers (dispatcher, web stream) may
// subscribe.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan domain.Message]struct{}
	buffer int
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[chan domain.Message]struct{}),
		buffer: buffer,
	}
}

// Publish sends the message to all subscribers, dropping it for a reader
// whose buffer is full.
func (b *Bus) Publish(msg domain.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel receiving every published message until
// Unsubscribe is called.
func (b *Bus) Subscribe() chan domain.Message {
	ch := make(chan domain.Message, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Bus) Unsubscribe(ch chan domain.Message) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
