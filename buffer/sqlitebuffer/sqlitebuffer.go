// Package sqlitebuffer implements base.Buffer on top of a SQLite file, so pending
// events survive a clean process restart. It follows the same connection-pool
// conventions as a pooled sqlite client (WAL pragmas, context-bounded open/close)
// adapted to a single-writer pool of size 1, since this module's durable buffer
// has exactly one caller: the worker goroutine.
package sqlitebuffer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/flock"
	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/base"
	"github.com/relex/logasync-handler/defs"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS event (
	id            INTEGER PRIMARY KEY,
	payload       BLOB NOT NULL,
	intake_time   INTEGER NOT NULL,
	pending_since INTEGER NOT NULL,
	send_state    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS event_send_state_id ON event (send_state, id);
`

// send_state column values, matching base.SendState's ordering.
const (
	sqlStateQueued   = int64(base.StateQueued)
	sqlStateInFlight = int64(base.StateInFlight)
)

// Config carries the options needed to open the SQLite backend.
type Config struct {
	// Path is the SQLite database file path. Required.
	Path string

	// OpenTimeout bounds the initial connect/schema-setup step. Defaults to 5s.
	OpenTimeout time.Duration

	// EventChunkSize bounds the number of row IDs per SQL statement in
	// ClaimBatch/Ack/Requeue. Defaults to 750.
	EventChunkSize int
}

// Buffer is the SQLite-backed base.Buffer implementation. It uses a single
// connection for its entire lifetime: the worker goroutine is the sole caller,
// so there is nothing to pool. The connection is opened with sqlite.OpenConn and
// then configured through sqlitex so WAL pragmas and busy-timeout behavior match
// the pack's convention.
type Buffer struct {
	conn      *sqlite.Conn
	lock      *flock.Flock
	chunkSize int
	logger    logger.Logger
}

// Open opens (creating if needed) the database at cfg.Path, applies standard
// pragmas, creates the event table if absent, and resets any IN_FLIGHT rows left
// over from a crashed process back to QUEUED.
func Open(cfg Config) (*Buffer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitebuffer: Path is required")
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 5 * time.Second
	}
	chunkSize := cfg.EventChunkSize
	if chunkSize <= 0 {
		chunkSize = 750
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	lock := flock.New(cfg.Path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("sqlitebuffer: acquiring lock on %s.lock: %w", cfg.Path, err)
	}
	if !locked {
		return nil, fmt.Errorf("sqlitebuffer: %s is locked by another process", cfg.Path)
	}

	conn, err := sqlite.OpenConn(cfg.Path, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		lock.Unlock() //nolint:errcheck // best effort on the failure path
		return nil, fmt.Errorf("sqlitebuffer: opening %s: %w", cfg.Path, err)
	}
	conn.SetInterrupt(ctx.Done())

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		lock.Unlock() //nolint:errcheck // best effort on the failure path
		return nil, fmt.Errorf("sqlitebuffer: %w", err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		lock.Unlock() //nolint:errcheck // best effort on the failure path
		return nil, fmt.Errorf("sqlitebuffer: creating schema: %w", err)
	}

	buf := &Buffer{
		conn:      conn,
		lock:      lock,
		chunkSize: chunkSize,
		logger:    logger.Root().WithField(defs.LabelComponent, "SQLiteBuffer"),
	}

	if err := buf.resetOrphanedInFlight(); err != nil {
		conn.Close()
		lock.Unlock() //nolint:errcheck // best effort on the failure path
		return nil, err
	}

	// The timeout above only bounds setup; clear the interrupt channel so the
	// impending cancel() does not poison the connection for the rest of its life.
	conn.SetInterrupt(nil)

	return buf, nil
}

func applyPragmas(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func (b *Buffer) resetOrphanedInFlight() error {
	conn := b.conn
	if conn == nil {
		return ErrClosed
	}
	var reset int
	err := sqlitex.Execute(conn,
		"UPDATE event SET send_state = ? WHERE send_state = ?",
		&sqlitex.ExecOptions{Args: []any{sqlStateQueued, sqlStateInFlight}})
	if err != nil {
		return fmt.Errorf("sqlitebuffer: resetting orphaned in-flight rows: %w", err)
	}
	reset = conn.Changes()
	if reset > 0 {
		b.logger.Infof("reset %d orphaned IN_FLIGHT rows to QUEUED on open", reset)
	}
	return nil
}

// Enqueue inserts a new QUEUED row and returns its assigned ID. now, not
// intakeTime, is stamped as pending_since: that is the column Expire measures
// TTL from, and it must reflect the moment the row actually lands in the
// database, not when the application goroutine originally called Emit.
func (b *Buffer) Enqueue(_ context.Context, payload []byte, intakeTime time.Time, now time.Time) (int64, error) {
	if b.conn == nil {
		return 0, ErrClosed
	}
	err := sqlitex.Execute(b.conn,
		"INSERT INTO event (payload, intake_time, pending_since, send_state) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{payload, intakeTime.UnixMilli(), now.UnixMilli(), sqlStateQueued}})
	if err != nil {
		return 0, fmt.Errorf("sqlitebuffer: enqueue: %w", err)
	}
	return b.conn.LastInsertRowID(), nil
}

// ClaimBatch selects up to limit QUEUED rows in ascending ID order, flips them to
// IN_FLIGHT, and returns them.
func (b *Buffer) ClaimBatch(_ context.Context, limit int) ([]base.Event, error) {
	if b.conn == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	var events []base.Event
	err := sqlitex.Execute(b.conn,
		"SELECT id, payload, intake_time, pending_since FROM event WHERE send_state = ? ORDER BY id ASC LIMIT ?",
		&sqlitex.ExecOptions{
			Args: []any{sqlStateQueued, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload, err := io.ReadAll(stmt.GetReader("payload"))
				if err != nil {
					return err
				}
				events = append(events, base.Event{
					ID:           stmt.GetInt64("id"),
					Payload:      payload,
					IntakeTime:   time.UnixMilli(stmt.GetInt64("intake_time")).UTC(),
					PendingSince: time.UnixMilli(stmt.GetInt64("pending_since")).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitebuffer: claim_batch select: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	if err := b.setStateChunked(ids, sqlStateInFlight); err != nil {
		return nil, fmt.Errorf("sqlitebuffer: claim_batch flip: %w", err)
	}
	return events, nil
}

// Ack deletes the given rows, chunked at EventChunkSize IDs per statement.
func (b *Buffer) Ack(_ context.Context, ids []int64) error {
	if b.conn == nil {
		return ErrClosed
	}
	for _, chunk := range chunk(ids, b.chunkSize) {
		query, args := inClauseQuery("DELETE FROM event WHERE id IN (", chunk)
		if err := sqlitex.Execute(b.conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return fmt.Errorf("sqlitebuffer: ack: %w", err)
		}
	}
	return nil
}

// Requeue flips the given rows back to QUEUED, chunked at EventChunkSize IDs per statement.
func (b *Buffer) Requeue(_ context.Context, ids []int64) error {
	if b.conn == nil {
		return ErrClosed
	}
	if err := b.setStateChunked(ids, sqlStateQueued); err != nil {
		return fmt.Errorf("sqlitebuffer: requeue: %w", err)
	}
	return nil
}

func (b *Buffer) setStateChunked(ids []int64, state int64) error {
	for _, c := range chunk(ids, b.chunkSize) {
		query, args := inClauseQuery("UPDATE event SET send_state = ?PLACEHOLDER? WHERE id IN (", c)
		query = expandStatePlaceholder(query)
		args = append([]any{state}, args...)
		if err := sqlitex.Execute(b.conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
	}
	return nil
}

// Expire deletes rows whose pending_since is older than ttl, returning the count deleted.
func (b *Buffer) Expire(_ context.Context, now time.Time, ttl time.Duration) (int, error) {
	if b.conn == nil {
		return 0, ErrClosed
	}
	cutoff := now.Add(-ttl).UnixMilli()
	err := sqlitex.Execute(b.conn, "DELETE FROM event WHERE pending_since < ?", &sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, fmt.Errorf("sqlitebuffer: expire: %w", err)
	}
	return int(b.conn.Changes()), nil
}

// Size returns the total number of rows currently held, QUEUED or IN_FLIGHT.
func (b *Buffer) Size(_ context.Context) (int, error) {
	if b.conn == nil {
		return 0, ErrClosed
	}
	var count int64
	err := sqlitex.Execute(b.conn, "SELECT COUNT(*) AS n FROM event", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.GetInt64("n")
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitebuffer: size: %w", err)
	}
	return int(count), nil
}

// Close closes the underlying connection and releases the file lock taken by Open.
// Safe to call once; further use is undefined.
func (b *Buffer) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	if b.lock != nil {
		if unlockErr := b.lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("sqlitebuffer: releasing lock: %w", unlockErr)
		}
	}
	if err != nil {
		return fmt.Errorf("sqlitebuffer: close: %w", err)
	}
	return nil
}

// ErrClosed is returned by any operation performed on a Buffer after Close.
var ErrClosed = errClosed{}

type errClosed struct{}

func (errClosed) Error() string { return "sqlitebuffer: closed" }

func chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(ids)
		if size == 0 {
			return nil
		}
	}
	var chunks [][]int64
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

func inClauseQuery(prefix string, ids []int64) (string, []any) {
	args := make([]any, len(ids))
	query := prefix
	for i, id := range ids {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args[i] = id
	}
	query += ")"
	return query, args
}

func expandStatePlaceholder(query string) string {
	const marker = "?PLACEHOLDER?"
	idx := indexOf(query, marker)
	if idx < 0 {
		return query
	}
	return query[:idx] + "?" + query[idx+len(marker):]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
