// Package memorybuffer implements base.Buffer as an ordered in-process map, used
// when config.Config.DatabasePath is unset. Events do not survive process exit.
package memorybuffer

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/relex/logasync-handler/base"
)

type row struct {
	event base.Event
	state base.SendState
}

// Buffer is an ordered-map durable-buffer stand-in. FIFO order is maintained by a
// doubly linked list of row pointers; a companion map gives O(1) lookup by ID for
// Ack/Requeue.
type Buffer struct {
	mu     sync.Mutex
	order  *list.List // of *row, oldest (lowest ID) at Front
	byID   map[int64]*list.Element
	nextID int64
	closed bool
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{
		order:  list.New(),
		byID:   make(map[int64]*list.Element),
		nextID: 1,
	}
}

// Enqueue inserts a new QUEUED row at the tail and returns its assigned ID.
func (b *Buffer) Enqueue(_ context.Context, payload []byte, intakeTime time.Time, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errClosed
	}
	id := b.nextID
	b.nextID++
	r := &row{event: base.Event{ID: id, Payload: payload, IntakeTime: intakeTime, PendingSince: now}, state: base.StateQueued}
	b.byID[id] = b.order.PushBack(r)
	return id, nil
}

// ClaimBatch selects up to limit QUEUED rows in ascending ID order (the list is
// already ordered by insertion, which matches ID order since IDs are assigned
// monotonically), flips them to IN_FLIGHT, and returns copies of their events.
func (b *Buffer) ClaimBatch(_ context.Context, limit int) ([]base.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}
	var claimed []base.Event
	for e := b.order.Front(); e != nil && len(claimed) < limit; e = e.Next() {
		r := e.Value.(*row)
		if r.state != base.StateQueued {
			continue
		}
		r.state = base.StateInFlight
		claimed = append(claimed, r.event)
	}
	return claimed, nil
}

// Ack deletes the given rows.
func (b *Buffer) Ack(_ context.Context, ids []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}
	for _, id := range ids {
		if e, ok := b.byID[id]; ok {
			b.order.Remove(e)
			delete(b.byID, id)
		}
	}
	return nil
}

// Requeue flips the given rows back to QUEUED.
func (b *Buffer) Requeue(_ context.Context, ids []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}
	for _, id := range ids {
		if e, ok := b.byID[id]; ok {
			e.Value.(*row).state = base.StateQueued
		}
	}
	return nil
}

// Expire deletes rows whose PendingSince is older than ttl, returning the count deleted.
func (b *Buffer) Expire(_ context.Context, now time.Time, ttl time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errClosed
	}
	deleted := 0
	e := b.order.Front()
	for e != nil {
		next := e.Next()
		r := e.Value.(*row)
		if now.Sub(r.event.PendingSince) > ttl {
			b.order.Remove(e)
			delete(b.byID, r.event.ID)
			deleted++
		}
		e = next
	}
	return deleted, nil
}

// Size returns the total number of rows currently held, QUEUED or IN_FLIGHT.
func (b *Buffer) Size(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errClosed
	}
	return b.order.Len(), nil
}

// Close marks the buffer closed; subsequent operations return errClosed.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.order = list.New()
	b.byID = make(map[int64]*list.Element)
	return nil
}

type closedErr struct{}

func (closedErr) Error() string { return "memorybuffer: closed" }

var errClosed = closedErr{}
