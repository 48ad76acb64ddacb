// Package outbox buffers publishes that fail at the transport and retries
// them from a relay loop. The buffer is bounded and overflow is surfaced to
// the caller: a saga-critical event is either delivered, explicitly queued,
// or loudly rejected, never silently dropped.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmehra2102/order-fulfillment/pkg/bus"
)

var ErrFull = errors.New("outbox: buffer full")

type Message struct {
	ID         int64
	Env        bus.Envelope
	Attempts   int
	EnqueuedAt time.Time
}

// Queue is the bounded in-memory store behind the relay.
type Queue struct {
	mu       sync.Mutex
	items    []Message
	capacity int
	nextID   int64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{capacity: capacity}
}

func (q *Queue) Enqueue(env bus.Envelope) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return 0, ErrFull
	}
	q.nextID++
	q.items = append(q.items, Message{ID: q.nextID, Env: env, EnqueuedAt: time.Now().UTC()})
	return q.nextID, nil
}

func (q *Queue) dequeue(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}
	batch := make([]Message, max)
	copy(batch, q.items[:max])
	q.items = q.items[max:]
	return batch
}

func (q *Queue) requeue(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, m)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Publisher fronts a transport publisher with the queue: a transport failure
// parks the envelope for the relay instead of losing it.
type Publisher struct {
	log    *slog.Logger
	direct bus.Publisher
	queue  *Queue
}

func NewPublisher(log *slog.Logger, direct bus.Publisher, queue *Queue) *Publisher {
	return &Publisher{log: log, direct: direct, queue: queue}
}

func (p *Publisher) Publish(ctx context.Context, env bus.Envelope) error {
	err := p.direct.Publish(ctx, env)
	if err == nil {
		return nil
	}
	if !errors.Is(err, bus.ErrTransport) {
		return err
	}
	if _, qerr := p.queue.Enqueue(env); qerr != nil {
		p.log.Error("publish failed and buffer full", "topic", env.Topic, "err", err)
		return err
	}
	p.log.Warn("transport down, publish queued", "topic", env.Topic, "key", env.Key)
	return nil
}

// Relay drains the queue against the transport on a fixed interval.
type Relay struct {
	log         *slog.Logger
	queue       *Queue
	direct      bus.Publisher
	relayID     string
	batchSize   int
	interval    time.Duration
	maxAttempts int
}

func NewRelay(log *slog.Logger, queue *Queue, direct bus.Publisher, relayID string) *Relay {
	return &Relay{
		log:         log,
		queue:       queue,
		direct:      direct,
		relayID:     relayID,
		batchSize:   100,
		interval:    500 * time.Millisecond,
		maxAttempts: 10,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID, "pending", r.queue.Len())
			return nil
		case <-t.C:
			r.Drain(ctx)
		}
	}
}

// Drain attempts one batch. Exposed so tests can drive the relay without
// waiting on the ticker.
func (r *Relay) Drain(ctx context.Context) {
	for _, m := range r.queue.dequeue(r.batchSize) {
		err := r.direct.Publish(ctx, m.Env)
		if err == nil {
			r.log.Info("queued publish dispatched", "topic", m.Env.Topic, "id", m.ID)
			continue
		}
		m.Attempts++
		if m.Attempts >= r.maxAttempts {
			r.log.Error("queued publish dropped after max attempts",
				"topic", m.Env.Topic, "id", m.ID, "attempts", m.Attempts, "err", err)
			continue
		}
		if !r.queue.requeue(m) {
			r.log.Error("requeue failed, buffer full", "topic", m.Env.Topic, "id", m.ID)
		}
	}
}
