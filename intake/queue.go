// Package intake implements the unbounded, non-blocking handoff from application
// goroutines calling handler.Emit into the worker goroutine.
//
// Writers never block: Push appends to a growable slice under a mutex. The worker
// drains in bulk through DrainBatch, which waits up to a bound for the first item
// and then takes whatever else is immediately available, up to a limit. Memory
// bounds come from flush cadence and, when persistence is enabled, the durable
// buffer being the real reservoir — not from this queue, which is deliberately
// unbounded.
package intake

import (
	"sync"
	"time"

	"github.com/relex/gotils/channels"
	"github.com/relex/logasync-handler/base"
)

// Item is an alias of base.IntakeItem so callers only need to import this package.
type Item = base.IntakeItem

// Queue is the in-process handoff between application goroutines and the worker.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	notify chan struct{} // closed and replaced whenever items becomes non-empty from empty
	closed *channels.SignalAwaitable
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}),
		closed: channels.NewSignalAwaitable(),
	}
}

// Push appends payload/now to the queue. Never blocks.
func (q *Queue) Push(payload []byte, now time.Time) {
	q.mu.Lock()
	wasEmpty := len(q.items) == 0
	q.items = append(q.items, Item{Payload: payload, IntakeTime: now})
	var toClose chan struct{}
	if wasEmpty {
		toClose, q.notify = q.notify, make(chan struct{})
	}
	q.mu.Unlock()
	if toClose != nil {
		close(toClose)
	}
}

// DrainBatch waits up to maxWait for at least one item to be available, then
// returns up to limit items immediately available. Returns nil if nothing
// arrived within maxWait. Returns immediately, without waiting,
// once Close has been called and the queue is empty.
func (q *Queue) DrainBatch(maxWait time.Duration, limit int) []Item {
	if batch := q.take(limit); len(batch) > 0 {
		return batch
	}

	q.mu.Lock()
	notify := q.notify
	q.mu.Unlock()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case <-notify:
	case <-q.closed.Channel():
	case <-timer.C:
	}

	return q.take(limit)
}

// Size reports how many items are currently queued, for diagnostics/metrics.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed, waking any blocked DrainBatch call. Items already
// pushed remain drainable; Close does not discard them. Idempotent.
func (q *Queue) Close() {
	q.closed.Signal()
}

func (q *Queue) take(limit int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	batch := q.items[:n]
	q.items = q.items[n:]
	return batch
}
