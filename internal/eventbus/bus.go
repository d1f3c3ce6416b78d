// Package eventbus is an in-memory, non-blocking fan-out of engine events.
// Publish never blocks; a slow subscriber drops events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeDispatchCompleted = "dispatch.completed"
	TypeTickCompleted     = "scheduler.tick"
	TypeRetracted         = "history.retracted"
	TypeDestinationSwept  = "destination.swept"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// DispatchCompleted is the Data of TypeDispatchCompleted.
type DispatchCompleted struct {
	Tenant    string
	PostID    string
	HistoryID string
	State     string
	OK        int
	Failed    int
	Took      time.Duration
}

// TickCompleted is the Data of TypeTickCompleted.
type TickCompleted struct {
	Tenants      int
	Materialized int
	Processed    int
	Errors       int
	Took         time.Duration
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards every event. Components fall back to it when no bus is wired.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish calls, so closing is safe.
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
