package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPushNeverBlocksAndPreservesOrder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 1000; i++ {
		q.Push([]byte{byte(i)}, time.Now())
	}
	assert.Equal(t, 1000, q.Size())

	batch := q.DrainBatch(time.Second, 10)
	assert.Len(t, batch, 10)
	for i, item := range batch {
		assert.Equal(t, byte(i), item.Payload[0])
	}
	assert.Equal(t, 990, q.Size())
}

func TestDrainBatchWaitsForFirstItem(t *testing.T) {
	q := NewQueue()
	done := make(chan []Item, 1)
	go func() {
		done <- q.DrainBatch(time.Second, 50)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push([]byte("hello"), time.Now())

	select {
	case batch := <-done:
		assert.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("DrainBatch did not return after push")
	}
}

func TestDrainBatchReturnsEmptyOnTimeout(t *testing.T) {
	q := NewQueue()
	batch := q.DrainBatch(20*time.Millisecond, 10)
	assert.Empty(t, batch)
}

func TestDrainBatchUnblocksOnClose(t *testing.T) {
	q := NewQueue()
	done := make(chan []Item, 1)
	go func() {
		done <- q.DrainBatch(10*time.Second, 10)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case batch := <-done:
		assert.Empty(t, batch)
	case <-time.After(time.Second):
		t.Fatal("DrainBatch did not unblock on Close")
	}
}
