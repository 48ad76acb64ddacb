package bus

import (
	"context"
	"sync"
)

// Memory is an in-process Bus. A single dispatcher goroutine delivers
// envelopes in publish order, so subscribers observe the same FIFO a real
// broker partition would give them. Duplicate delivery is exercised simply
// by publishing the same envelope twice.
type Memory struct {
	mu      sync.RWMutex
	routes  map[string][]Handler
	closed  bool
	queue   chan Envelope
	done    chan struct{}
	pending sync.WaitGroup
}

func NewMemory() *Memory {
	m := &Memory{
		routes: make(map[string][]Handler),
		queue:  make(chan Envelope, 1024),
		done:   make(chan struct{}),
	}
	go m.dispatch()
	return m
}

func (m *Memory) dispatch() {
	defer close(m.done)
	for env := range m.queue {
		m.mu.RLock()
		handlers := make([]Handler, len(m.routes[env.Topic]))
		copy(handlers, m.routes[env.Topic])
		m.mu.RUnlock()

		// Handler outcomes are the subscriber's own concern; the bus
		// only reports transport-level failure.
		for _, h := range handlers {
			_ = h(context.Background(), env)
		}
		m.pending.Done()
	}
}

func (m *Memory) Publish(_ context.Context, env Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrTransport
	}
	m.pending.Add(1)
	m.queue <- env
	return nil
}

func (m *Memory) Subscribe(_ context.Context, _ string, routes Routes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransport
	}
	for topic, h := range routes {
		m.routes[topic] = append(m.routes[topic], h)
	}
	return nil
}

// Drain blocks until every published envelope, including those published by
// handlers along the way, has been delivered.
func (m *Memory) Drain() {
	m.pending.Wait()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	<-m.done
	return nil
}
