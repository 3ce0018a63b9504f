// Package eventbus carries in-process pipeline events (deliveries, watcher
// cycles, gateway batches) from the loops that produce them to observers
// such as metrics.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pipeline.
const (
	DeliverySent     = "delivery.sent"
	DeliveryPurged   = "delivery.purged"
	DeliveryRequeued = "delivery.requeued"
	WatcherCycle     = "watcher.cycle"
	GatewayBatch     = "gateway.batch"
	ChangeFeedPolled = "gateway.changefeed"
	LoopFailed       = "loop.failed"
)

// Event is a small in-memory signal. Publish never blocks; a subscriber
// that falls behind loses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Delivery is the payload of delivery.* events.
type Delivery struct {
	ChannelID string
	QueueLen  int
	Status    int // HTTP status of the failure, 0 on success
}

// Cycle is the payload of watcher.cycle events.
type Cycle struct {
	WatcherType string
	Result      string // idle, processed, disconnected, error
	Emitted     int
	Took        time.Duration
}

// Batch is the payload of gateway.batch events.
type Batch struct {
	Apps     int
	Packages int
	Pending  int
	Err      bool
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
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
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered subscriber. The channel is closed by the
// returned unsubscribe func.
func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight publishes.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many events were lost to full subscribers.
func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
func (nopBus) Dropped() uint64 { return 0 }
