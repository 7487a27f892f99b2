package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// ExecutionEvent is emitted once per trigger firing (manual or scheduled).
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type ExecutionEvent struct {
	ScheduleID   string
	ScheduleName string
	MovementID   string
	MovementName string
	At           time.Time
	Took         time.Duration
	Success      bool
	Error        string
	DeviceIP     string
	Manual       bool
}

type Bus interface {
	Publish(e ExecutionEvent)
	Subscribe(buffer int) (ch <-chan ExecutionEvent, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan ExecutionEvent{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan ExecutionEvent
	seq  atomic.Uint64
}

func (b *memBus) Publish(e ExecutionEvent) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan ExecutionEvent, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan ExecutionEvent, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan ExecutionEvent, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
