package base

import (
	"context"
	"time"
)

// Buffer is the durable FIFO contract shared by the in-memory and SQLite-backed
// implementations. claim_batch is never called concurrently with itself: the
// worker is the sole caller and owner.
type Buffer interface {
	// Enqueue inserts a new QUEUED row and returns its assigned ID. intakeTime is
	// stamped onto the row as Event.IntakeTime; now is stamped as
	// Event.PendingSince, the moment the row actually enters the durable buffer
	// and the reference point Expire measures TTL from.
	Enqueue(ctx context.Context, payload []byte, intakeTime time.Time, now time.Time) (int64, error)

	// ClaimBatch selects up to limit QUEUED rows in ascending ID order, flips them
	// to IN_FLIGHT, and returns them.
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)

	// Ack deletes the given rows. Called after a batch is fully transmitted.
	Ack(ctx context.Context, ids []int64) error

	// Requeue flips the given rows back to QUEUED. Called after a failed send.
	Requeue(ctx context.Context, ids []int64) error

	// Expire deletes rows whose PendingSince is older than ttl, returning the count deleted.
	Expire(ctx context.Context, now time.Time, ttl time.Duration) (int, error)

	// Size returns the total number of rows currently held, QUEUED or IN_FLIGHT.
	Size(ctx context.Context) (int, error)

	// Close releases backend resources. Safe to call once; further use is undefined.
	Close() error
}
