// Package buffer selects and opens the durable FIFO backend — in-memory or
// SQLite-backed — behind the single base.Buffer contract: database_path set
// picks the SQLite backend, unset picks the in-memory one.
package buffer

import (
	"fmt"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/base"
	"github.com/relex/logasync-handler/buffer/memorybuffer"
	"github.com/relex/logasync-handler/buffer/sqlitebuffer"
	"github.com/relex/logasync-handler/defs"
)

// Buffer is the durable FIFO contract; re-exported here so callers only need to
// import this package rather than base directly.
type Buffer = base.Buffer

// Config carries the options needed to open either backend.
type Config struct {
	// DatabasePath, if non-empty, selects the SQLite backend and names its file.
	// Empty selects the in-memory backend; events do not survive process exit.
	DatabasePath string

	// DatabaseTimeout bounds opening the SQLite backend.
	DatabaseTimeout time.Duration

	// DatabaseEventChunkSize bounds the number of row IDs per SQL statement issued
	// by ClaimBatch/Ack/Requeue against the SQLite backend. Ignored by the
	// in-memory backend.
	DatabaseEventChunkSize int
}

// Open picks a backend based on cfg.DatabasePath and opens it. On the SQLite
// backend, Open resets any IN_FLIGHT rows left over from a crashed process back to
// QUEUED before returning.
func Open(cfg Config) (Buffer, error) {
	if cfg.DatabasePath == "" {
		logger.Root().WithField(defs.LabelBackend, "memory").Info("using in-memory durable buffer; events will not survive a restart")
		return memorybuffer.New(), nil
	}
	buf, err := sqlitebuffer.Open(sqlitebuffer.Config{
		Path:           cfg.DatabasePath,
		OpenTimeout:    cfg.DatabaseTimeout,
		EventChunkSize: cfg.DatabaseEventChunkSize,
	})
	if err != nil {
		return nil, fmt.Errorf("buffer: opening sqlite backend at %s: %w", cfg.DatabasePath, err)
	}
	logger.Root().WithField(defs.LabelBackend, "sqlite").Infof("opened durable buffer at %s", cfg.DatabasePath)
	return buf, nil
}
