// Package defs holds process-wide tunable defaults for the log-shipping pipeline.
//
// Values here are only defaults; a running handler captures an immutable
// snapshot of its own config.Tunables at construction time and never
// re-reads this package afterwards.
package defs

import (
	"time"

	"github.com/c2h5oh/datasize"
)

var (
	// SocketTimeout bounds TCP connect, read and write calls made by a transport.
	SocketTimeout = 5 * time.Second

	// QueueCheckInterval is how often the worker drains the intake queue into the durable buffer.
	QueueCheckInterval = 2 * time.Second

	// FlushInterval is the max time between flush attempts, regardless of batch size.
	FlushInterval = 10 * time.Second

	// FlushCount is both the batch-size trigger and the claim-batch size.
	FlushCount = 50

	// DatabaseEventChunkSize bounds the number of row IDs per SQL statement.
	DatabaseEventChunkSize = 750

	// DatabaseTimeout bounds opening the durable buffer's storage backend.
	DatabaseTimeout = 5 * time.Second

	// ErrorLogRateLimit is the default rate-spec for worker-internal diagnostic logs, empty = disabled.
	ErrorLogRateLimit = ""

	// MaxPayloadBytes bounds the size of a single event payload accepted into the durable buffer.
	//
	// Resolves the open question in the original design about unbounded BLOB size: payloads larger
	// than this are dropped and counted at intake rather than handed to the buffer backend.
	MaxPayloadBytes = int((1 * datasize.MB).Bytes())

	// FingerprintIdleTTL bounds how long an unused rate-limit bucket is kept before eviction.
	FingerprintIdleTTL = 10 * time.Minute

	// IntakeDrainSoftCap bounds how many items the worker pulls from the intake queue per cycle,
	// so one noisy cycle can't starve the flush step indefinitely.
	IntakeDrainSoftCap = 5000

	// BackoffFloor is the base the backoff schedule uses in place of a non-positive SocketTimeout,
	// so base·2^(n-1) never starts at zero.
	BackoffFloor = 100 * time.Millisecond
)

// Labels used consistently across loggers and metrics.
const (
	LabelComponent   = "component"
	LabelFingerprint = "fingerprint"
	LabelBackend     = "backend"
)
