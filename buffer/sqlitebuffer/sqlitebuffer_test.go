package sqlitebuffer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func openTestBuffer(t *testing.T) *Buffer {
	path := filepath.Join(t.TempDir(), "events.db")
	buf, err := Open(Config{Path: path})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestEnqueueClaimAckRoundTrip(t *testing.T) {
	buf := openTestBuffer(t)
	ctx := context.Background()

	id1, err := buf.Enqueue(ctx, []byte("one"), time.Now(), time.Now())
	assert.NoError(t, err)
	id2, err := buf.Enqueue(ctx, []byte("two"), time.Now(), time.Now())
	assert.NoError(t, err)
	assert.Less(t, id1, id2)

	size, err := buf.Size(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, size)

	batch, err := buf.ClaimBatch(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, []byte("one"), batch[0].Payload)

	again, err := buf.ClaimBatch(ctx, 10)
	assert.NoError(t, err)
	assert.Empty(t, again, "claimed rows are IN_FLIGHT and must not be reclaimed")

	ids := []int64{batch[0].ID, batch[1].ID}
	assert.NoError(t, buf.Ack(ctx, ids))

	size, err = buf.Size(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestRequeueMakesRowsClaimableAgain(t *testing.T) {
	buf := openTestBuffer(t)
	ctx := context.Background()

	_, err := buf.Enqueue(ctx, []byte("x"), time.Now(), time.Now())
	assert.NoError(t, err)

	batch, err := buf.ClaimBatch(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, batch, 1)

	assert.NoError(t, buf.Requeue(ctx, []int64{batch[0].ID}))

	again, err := buf.ClaimBatch(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestExpireDropsOldRowsOnly(t *testing.T) {
	buf := openTestBuffer(t)
	ctx := context.Background()

	_, err := buf.Enqueue(ctx, []byte("old"), time.Now().Add(-time.Hour), time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	_, err = buf.Enqueue(ctx, []byte("fresh"), time.Now(), time.Now())
	assert.NoError(t, err)

	n, err := buf.Expire(ctx, time.Now(), time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err := buf.Size(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestReopenResetsOrphanedInFlightRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	buf, err := Open(Config{Path: path})
	assert.NoError(t, err)
	_, err = buf.Enqueue(ctx, []byte("x"), time.Now(), time.Now())
	assert.NoError(t, err)
	batch, err := buf.ClaimBatch(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.NoError(t, buf.Close()) // simulates a crash: the row is left IN_FLIGHT

	reopened, err := Open(Config{Path: path})
	assert.NoError(t, err)
	defer reopened.Close()

	// the row must be claimable again: Open resets orphaned IN_FLIGHT to QUEUED.
	again, err := reopened.ClaimBatch(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestOperationsFailAfterClose(t *testing.T) {
	buf := openTestBuffer(t)
	ctx := context.Background()
	assert.NoError(t, buf.Close())

	_, err := buf.Enqueue(ctx, []byte("x"), time.Now(), time.Now())
	assert.Error(t, err)

	_, err = buf.ClaimBatch(ctx, 10)
	assert.Error(t, err)

	_, err = buf.Size(ctx)
	assert.Error(t, err)
}

func TestAckChunksAcrossEventChunkSizeBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	buf, err := Open(Config{Path: path, EventChunkSize: 2})
	assert.NoError(t, err)
	defer buf.Close()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := buf.Enqueue(ctx, []byte{byte(i)}, time.Now(), time.Now())
		assert.NoError(t, err)
		ids = append(ids, id)
	}

	assert.NoError(t, buf.Ack(ctx, ids))

	size, err := buf.Size(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, size)
}
