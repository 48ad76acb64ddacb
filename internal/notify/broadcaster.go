// Package notify fans status events out to live subscribers. Delivery is
// best effort: a subscriber that cannot keep up loses events rather than
// slowing the saga down.
package notify

import (
	"log/slog"
	"sync"

	"github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

const defaultBuffer = 64

type Broadcaster struct {
	log    *slog.Logger
	buffer int

	mu     sync.Mutex
	nextID int64
	subs   map[int64]chan domain.StatusEvent
}

func NewBroadcaster(log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		log:    log,
		buffer: defaultBuffer,
		subs:   make(map[int64]chan domain.StatusEvent),
	}
}

// Subscribe registers a listener. The returned cancel func must be called to
// release the subscription; after cancel the channel is closed.
func (b *Broadcaster) Subscribe() (<-chan domain.StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan domain.StatusEvent, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Notify delivers the event to every subscriber without blocking. Events to
// a full subscriber buffer are dropped.
func (b *Broadcaster) Notify(ev domain.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("subscriber lagging, event dropped",
				"subscriber", id, "orderId", ev.OrderID, "status", ev.Status)
		}
	}
}

// Subscribers reports the current listener count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
