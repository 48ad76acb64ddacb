// Package scheduler provides the schedule-after-duration primitive used
// to model delayed work (e.g. a simulated transit delay) without sleeping
// threads. The manual implementation lets tests advance virtual time.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

// CancelFunc stops a pending task. It reports whether the task was still
// pending, mirroring (*time.Timer).Stop.
type CancelFunc func() bool

type Scheduler interface {
	// Schedule runs fn once after d has elapsed.
	Schedule(d time.Duration, fn func()) CancelFunc
}

type real struct{}

// New returns a wall-clock scheduler backed by time.AfterFunc.
func New() Scheduler { return real{} }

func (real) Schedule(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// Manual is a virtual-time Scheduler. Nothing fires until Advance is called.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers map[int]*manualTimer
}

type manualTimer struct {
	due time.Duration
	seq int
	fn  func()
}

func NewManual() *Manual {
	return &Manual{timers: make(map[int]*manualTimer)}
}

func (m *Manual) Schedule(d time.Duration, fn func()) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := m.seq
	m.timers[id] = &manualTimer{due: m.now + d, seq: id, fn: fn}
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, pending := m.timers[id]
		delete(m.timers, id)
		return pending
	}
}

// Advance moves virtual time forward and fires every timer that came due,
// in due-time order. Callbacks run on the calling goroutine.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var due []*manualTimer
	for id, t := range m.timers {
		if t.due <= m.now {
			due = append(due, t)
			delete(m.timers, id)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		t.fn()
	}
}

// Pending reports how many timers have not yet fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
